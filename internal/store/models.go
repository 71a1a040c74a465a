package store

import (
	"time"

	"github.com/modfin/henry/mapz"
	"github.com/modfin/mntletter/tools"
)

// Root is the whole persisted document. A root returned by Store.Snapshot is shared and must not be modified,
// changes go through Store.Update.
type Root struct {
	Lists    map[string]*List    `json:"lists"`
	Mailings map[string]*Mailing `json:"mailings"`
}

// List is created out of band. Only Subscribers changes while serving.
type List struct {
	Name  string `json:"name"`
	Title string `json:"title"`

	// A key exists iff the address has completed confirmation. There is no record of pending
	// subscriptions, pending is derived from a valid confirmation token and never stored.
	Subscribers map[string]Subscriber `json:"subscribers"`
}

type Subscriber struct {
	SubscribedAt time.Time `json:"subscribedAt"`
}

// Mailing is staged while SentAt is nil and sent, terminally, once it is set.
type Mailing struct {
	List           string     `json:"list,omitempty"` // empty for records written before mailings were tied to a list
	CreatedAt      time.Time  `json:"createdAt"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	NumSubscribers int        `json:"numSubscribers"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
}

func NewRoot() *Root {
	return &Root{
		Lists:    map[string]*List{},
		Mailings: map[string]*Mailing{},
	}
}

func NewList(name, title string) *List {
	return &List{
		Name:        name,
		Title:       title,
		Subscribers: map[string]Subscriber{},
	}
}

func (r *Root) List(name string) (*List, bool) {
	l, ok := r.Lists[name]
	return l, ok
}

func (r *Root) Clone() *Root {
	c := &Root{
		Lists:    make(map[string]*List, len(r.Lists)),
		Mailings: make(map[string]*Mailing, len(r.Mailings)),
	}
	for name, l := range r.Lists {
		c.Lists[name] = l.Clone()
	}
	for id, m := range r.Mailings {
		c.Mailings[id] = m.Clone()
	}
	return c
}

func (l *List) Clone() *List {
	return &List{
		Name:        l.Name,
		Title:       l.Title,
		Subscribers: mapz.Clone(l.Subscribers),
	}
}

func (l *List) Confirmed(email string) bool {
	_, ok := l.Subscribers[email]
	return ok
}

// Emails returns the confirmed addresses, sorted.
func (l *List) Emails() []string {
	return tools.SortedKeys(l.Subscribers)
}

func (m *Mailing) Clone() *Mailing {
	c := *m
	if m.SentAt != nil {
		sent := *m.SentAt
		c.SentAt = &sent
	}
	return &c
}

func (m *Mailing) Sent() bool {
	return m.SentAt != nil
}

// BelongsTo reports whether the mailing may be addressed through list.
func (m *Mailing) BelongsTo(list string) bool {
	return m.List == "" || m.List == list
}
