package compose

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/modfin/henry/compare"
	"github.com/modfin/mntletter"
)

const DefaultSignature = `-- 
You receive this mail because you subscribed to {{.List}}.
Unsubscribe: {{.UnsubscribeURL}}`

type Config struct {
	BaseURL   string `cli:"base-url"`
	Operator  string `cli:"admin-email"`
	Signature string `cli:"email-signature"`
}

// SignatureData is what a signature template can refer to.
type SignatureData struct {
	List           string
	Email          string
	BaseURL        string
	UnsubscribeURL string
}

type Composer struct {
	cfg       Config
	signature *template.Template
}

func New(cfg Config) (*Composer, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	sig, err := template.New("signature").Option("missingkey=error").Parse(compare.Coalesce(cfg.Signature, DefaultSignature))
	if err != nil {
		return nil, fmt.Errorf("could not parse email signature: %w", err)
	}
	c := &Composer{cfg: cfg, signature: sig}
	// a signature that parses may still fail on every render, e.g. when it refers to unknown fields
	_, err = c.Signature("list", "someone@example.com")
	if err != nil {
		return nil, fmt.Errorf("email signature does not render: %w", err)
	}
	return c, nil
}

func (c *Composer) UnsubscribeURL(list, email string) string {
	q := url.Values{}
	q.Set("email", email)
	return fmt.Sprintf("%s/lists/%s/unsubscribe?%s", c.cfg.BaseURL, url.PathEscape(list), q.Encode())
}

func (c *Composer) Signature(list, email string) (string, error) {
	buf := bytes.Buffer{}
	err := c.signature.Execute(&buf, SignatureData{
		List:           list,
		Email:          email,
		BaseURL:        c.cfg.BaseURL,
		UnsubscribeURL: c.UnsubscribeURL(list, email),
	})
	if err != nil {
		return "", fmt.Errorf("could not render signature: %w", err)
	}
	return buf.String(), nil
}

func (c *Composer) Confirmation(list, title, email, link string) (mntletter.Message, error) {
	sig, err := c.Signature(list, email)
	if err != nil {
		return mntletter.Message{}, err
	}

	text := "Hello,\n\n" +
		"Follow this link to confirm your subscription to " + title + ":\n" +
		link + "\n\n" +
		"If you did not intentionally subscribe, please ignore this mail.\n\n" +
		sig

	return mntletter.Message{
		Kind:    mntletter.KindConfirmation,
		List:    list,
		To:      mntletter.AddressOf(email),
		Subject: fmt.Sprintf("[%s] Please confirm your subscription", list),
		Text:    text,
	}, nil
}

// Preview is the operator's copy of a staged mailing, without signature.
func (c *Composer) Preview(list, id, subject, body string) mntletter.Message {
	return mntletter.Message{
		Kind:      mntletter.KindPreview,
		List:      list,
		MailingID: id,
		To:        mntletter.AddressOf(c.cfg.Operator),
		Subject:   fmt.Sprintf("[%s] (preview) %s", list, subject),
		Text:      body,
	}
}

func (c *Composer) Broadcast(list, id, subject, body, email string) (mntletter.Message, error) {
	sig, err := c.Signature(list, email)
	if err != nil {
		return mntletter.Message{}, err
	}
	return mntletter.Message{
		Kind:      mntletter.KindBroadcast,
		List:      list,
		MailingID: id,
		To:        mntletter.AddressOf(email),
		Subject:   fmt.Sprintf("[%s] %s", list, subject),
		Text:      body + "\n\n" + sig,
		Headers: map[string]string{
			"List-Unsubscribe": "<" + c.UnsubscribeURL(list, email) + ">",
			"List-Id":          fmt.Sprintf("<%s>", list),
		},
	}, nil
}
