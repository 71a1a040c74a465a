package lists

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/internal/dao"
	"github.com/modfin/mntletter/internal/store"
)

type MailingStatus string

const MailingStaged MailingStatus = "staged"
const MailingSent MailingStatus = "sent"

type StageResult struct {
	List           string    `json:"list"`
	Title          string    `json:"title"`
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	CreatedAt      time.Time `json:"created_at"`
	NumSubscribers int       `json:"num_subscribers"`
	// Replaced is true when a staged mailing with the same id was overwritten.
	Replaced bool `json:"replaced"`
}

type SendResult struct {
	List       string    `json:"list"`
	Title      string    `json:"title"`
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
	Recipients int       `json:"recipients"`
}

type MailingInfo struct {
	List           string              `json:"list"`
	ID             string              `json:"id"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Status         MailingStatus       `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	NumSubscribers int                 `json:"num_subscribers"`
	SentAt         *time.Time          `json:"sent_at,omitempty"`
	Delivery       dao.DispatchSummary `json:"delivery"`
}

func findList(root *store.Root, list string) (*store.List, error) {
	l, ok := root.List(list)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListNotFound, list)
	}
	return l, nil
}

func findMailing(root *store.Root, list string, id string) (*store.Mailing, error) {
	m, ok := root.Mailings[id]
	if !ok || !m.BelongsTo(list) {
		return nil, fmt.Errorf("%w: %s on %s", ErrMailingNotFound, id, list)
	}
	return m, nil
}

// validMailingID accepts ids that can be used as a path segment as is and do not collide with the
// mailing pages.
func validMailingID(id string) bool {
	if id == "" || id == "new" || id == "stage" {
		return false
	}
	return url.PathEscape(id) == id && !strings.ContainsAny(id, "/.")
}

// StageMailing stores a draft and mails a preview of it to the operator. A staged draft with the same id is
// replaced, a sent one never is.
func (s *Service) StageMailing(list string, id string, subject string, body string) (StageResult, error) {
	id = strings.TrimSpace(id)
	var res StageResult
	err := s.store.Update(func(root *store.Root) error {
		l, err := findList(root, list)
		if err != nil {
			return err
		}
		if !validMailingID(id) || strings.TrimSpace(subject) == "" {
			return fmt.Errorf("%w: id %q, subject %q", ErrInvalidMailing, id, subject)
		}

		prev, exists := root.Mailings[id]
		if exists && !prev.BelongsTo(l.Name) {
			return fmt.Errorf("%w: %s belongs to %s", ErrMailingConflict, id, prev.List)
		}
		if exists && prev.Sent() {
			return fmt.Errorf("%w: %s was sent at %s", ErrAlreadySent, id, prev.SentAt.Format(time.RFC3339))
		}

		m := &store.Mailing{
			List:           l.Name,
			CreatedAt:      s.now(),
			Subject:        subject,
			Body:           body,
			NumSubscribers: len(l.Subscribers),
		}
		root.Mailings[id] = m
		res = StageResult{
			List:           l.Name,
			Title:          l.Title,
			ID:             id,
			Subject:        subject,
			CreatedAt:      m.CreatedAt,
			NumSubscribers: m.NumSubscribers,
			Replaced:       exists,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrPersistence) {
			s.log.WithError(err).WithField("list", list).WithField("mailing", id).Error("stage; mailing not recorded")
		}
		return StageResult{}, err
	}

	s.mailer.Enqueue(s.composer.Preview(res.List, id, subject, body))
	s.log.WithField("list", res.List).WithField("mailing", id).WithField("replaced", res.Replaced).Info("stage; mailing staged")
	return res, nil
}

// SendMailing marks the mailing as sent and then enqueues one copy per confirmed subscriber. The mailing stays
// sent whatever happens to the copies.
func (s *Service) SendMailing(list string, id string) (SendResult, error) {
	var res SendResult
	var mailing store.Mailing
	var recipients []string

	err := s.store.Update(func(root *store.Root) error {
		l, err := findList(root, list)
		if err != nil {
			return err
		}
		m, err := findMailing(root, l.Name, id)
		if err != nil {
			return err
		}
		if m.Sent() {
			return fmt.Errorf("%w: %s was sent at %s", ErrAlreadySent, id, m.SentAt.Format(time.RFC3339))
		}

		at := s.now()
		m.SentAt = &at
		m.List = l.Name

		mailing = *m
		recipients = l.Emails()
		res = SendResult{List: l.Name, Title: l.Title, ID: id, Subject: m.Subject, SentAt: at}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrPersistence) {
			s.log.WithError(err).WithField("list", list).WithField("mailing", id).Error("send; mailing not marked as sent, nothing dispatched")
		}
		return SendResult{}, err
	}

	msgs := make([]mntletter.Message, 0, len(recipients))
	for _, email := range recipients {
		msg, err := s.composer.Broadcast(res.List, id, mailing.Subject, mailing.Body, email)
		if err != nil {
			s.log.WithError(err).WithField("list", res.List).WithField("mailing", id).WithField("email", email).Error("send; could not compose message, skipping recipient")
			continue
		}
		msgs = append(msgs, msg)
	}
	s.mailer.Enqueue(msgs...)
	res.Recipients = len(msgs)

	s.log.WithField("list", res.List).WithField("mailing", id).WithField("recipients", len(msgs)).Info("send; mailing sent")
	return res, nil
}

func (s *Service) Mailing(list string, id string) (MailingInfo, error) {
	root := s.store.Snapshot()
	l, err := findList(root, list)
	if err != nil {
		return MailingInfo{}, err
	}
	m, err := findMailing(root, l.Name, id)
	if err != nil {
		return MailingInfo{}, err
	}

	info := MailingInfo{
		List:           l.Name,
		ID:             id,
		Subject:        m.Subject,
		Body:           m.Body,
		Status:         MailingStaged,
		CreatedAt:      m.CreatedAt,
		NumSubscribers: m.NumSubscribers,
	}
	if m.Sent() {
		sent := *m.SentAt
		info.Status = MailingSent
		info.SentAt = &sent
	}

	if s.journal != nil {
		info.Delivery, err = s.journal.GetSummary(id)
		if err != nil {
			s.log.WithError(err).WithField("mailing", id).Warn("mailing; could not read delivery journal")
		}
	}
	return info, nil
}
