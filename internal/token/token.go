package token

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Engine derives confirmation codes from an address and a server secret. Nothing is stored, a code never expires
// and anyone holding the secret can confirm any address.
type Engine struct {
	secret []byte
}

func New(secret string) (*Engine, error) {
	if len(secret) == 0 {
		return nil, errors.New("a confirmation secret must be provided")
	}
	if len(secret) > blake2b.Size {
		// keyed blake2b takes at most 64 bytes of key
		sum := blake2b.Sum512([]byte(secret))
		return &Engine{secret: sum[:]}, nil
	}
	return &Engine{secret: []byte(secret)}, nil
}

func (e *Engine) Token(email string) string {
	h, err := blake2b.New256(e.secret)
	if err != nil {
		panic(fmt.Sprintf("keyed blake2b with a %d byte key: %v", len(e.secret), err))
	}
	h.Write([]byte(email))
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) Verify(email string, supplied string) bool {
	want := e.Token(email)
	return subtle.ConstantTimeCompare([]byte(want), []byte(supplied)) == 1
}

// Link is the confirmation URL mailed to a pending subscriber,
// {baseURL}/lists/{list}/confirm?email={email}&code={token}.
func (e *Engine) Link(baseURL string, list string, email string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("code", e.Token(email))
	return fmt.Sprintf("%s/lists/%s/confirm?%s", strings.TrimRight(baseURL, "/"), url.PathEscape(list), q.Encode())
}
