package lists

import (
	"fmt"
	"strings"
	"time"

	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/internal/compose"
	"github.com/modfin/mntletter/internal/dao"
	"github.com/modfin/mntletter/internal/guard"
	"github.com/modfin/mntletter/internal/store"
	"github.com/modfin/mntletter/internal/token"
	"github.com/modfin/mntletter/tools"
	"github.com/sirupsen/logrus"
)

// Mailer takes messages for delivery. Enqueue must not wait for delivery and never reports its outcome.
type Mailer interface {
	Enqueue(msgs ...mntletter.Message)
}

type Config struct {
	BaseURL string `cli:"base-url"`
	// Now defaults to time.Now
	Now func() time.Time
}

// Service runs the subscription and mailing state transitions on top of the store. Every mutation goes
// through store.Update, mail is enqueued only after the mutation is on disk.
type Service struct {
	cfg      Config
	log      *logrus.Logger
	store    *store.Store
	tokens   *token.Engine
	guard    *guard.Guard
	composer *compose.Composer
	mailer   Mailer
	journal  dao.DAO
}

// New creates the service. journal may be nil, mailing info then carries no delivery counts.
func New(cfg Config, lc *tools.Logger, s *store.Store, tokens *token.Engine, g *guard.Guard, c *compose.Composer, mailer Mailer, journal dao.DAO) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		cfg:      cfg,
		log:      lc.New("lists"),
		store:    s,
		tokens:   tokens,
		guard:    g,
		composer: c,
		mailer:   mailer,
		journal:  journal,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// ListInfo describes a list without its subscribers.
type ListInfo struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
}

func (s *Service) List(list string) (ListInfo, error) {
	l, ok := s.store.Snapshot().List(list)
	if !ok {
		return ListInfo{}, fmt.Errorf("%w: %s", ErrListNotFound, list)
	}
	return ListInfo{Name: l.Name, Title: l.Title, Subscribers: len(l.Subscribers)}, nil
}

// lookup resolves list and validates email, in that order. It parses the address, so it is not meant to run
// inside store.Update.
func lookup(root *store.Root, list string, email string) (*store.List, error) {
	l, ok := root.List(list)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListNotFound, list)
	}
	if !mntletter.ValidAddress(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return l, nil
}
