package mntletter

// Kind tells what triggered an outbound message.
type Kind string

func (k Kind) String() string {
	return string(k)
}

// KindConfirmation is the double opt-in mail carrying the confirmation link.
const KindConfirmation Kind = "confirmation"

// KindPreview is the copy of a staged mailing sent to the operator.
const KindPreview Kind = "preview"

// KindBroadcast is one recipient's copy of a sent mailing.
const KindBroadcast Kind = "broadcast"

type Message struct {
	Kind      Kind              `json:"kind"`
	List      string            `json:"list"`
	MailingID string            `json:"mailing_id,omitempty"`
	To        Address           `json:"to"`
	Subject   string            `json:"subject"`
	Text      string            `json:"text"`
	Headers   map[string]string `json:"headers,omitempty"`
}
