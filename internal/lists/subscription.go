package lists

import (
	"errors"
	"fmt"
	"time"

	"github.com/modfin/mntletter/internal/store"
)

// Status of an address on a list. Pending is not a status the service can report, a subscription is pending
// from the moment a confirmation mail is issued until it is confirmed, and nothing of that is stored. Do not add
// a store of pending subscriptions, the confirmation code alone decides whether a confirmation is valid.
type Status string

const StatusUnsubscribed Status = "unsubscribed"
const StatusConfirmed Status = "confirmed"

type RequestResult struct {
	List  string `json:"list"`
	Title string `json:"title"`
	Email string `json:"email"`
}

type ConfirmResult struct {
	List         string    `json:"list"`
	Title        string    `json:"title"`
	Email        string    `json:"email"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

type UnsubscribeResult struct {
	List  string `json:"list"`
	Title string `json:"title"`
	Email string `json:"email"`
}

// RequestSubscription mails a confirmation link to email. Nothing is written to the store.
func (s *Service) RequestSubscription(list string, email string) (RequestResult, error) {
	l, err := lookup(s.store.Snapshot(), list, email)
	if err != nil {
		return RequestResult{}, err
	}
	if l.Confirmed(email) {
		return RequestResult{}, fmt.Errorf("%w: %s on %s", ErrAlreadyConfirmed, email, list)
	}
	if !s.guard.Allow(email) {
		return RequestResult{}, fmt.Errorf("%w: %s", ErrTooManyRequests, email)
	}

	link := s.tokens.Link(s.cfg.BaseURL, l.Name, email)
	msg, err := s.composer.Confirmation(l.Name, l.Title, email, link)
	if err != nil {
		return RequestResult{}, err
	}
	s.mailer.Enqueue(msg)

	s.log.WithField("list", l.Name).WithField("email", email).Info("request; confirmation mail enqueued")
	return RequestResult{List: l.Name, Title: l.Title, Email: email}, nil
}

func (s *Service) ConfirmSubscription(list string, email string, code string) (ConfirmResult, error) {
	if _, err := lookup(s.store.Snapshot(), list, email); err != nil {
		return ConfirmResult{}, err
	}

	var res ConfirmResult
	err := s.store.Update(func(root *store.Root) error {
		l, err := findList(root, list)
		if err != nil {
			return err
		}
		if l.Confirmed(email) {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyConfirmed, email, list)
		}
		if !s.tokens.Verify(email, code) {
			return fmt.Errorf("%w: for %s", ErrInvalidToken, email)
		}

		at := s.now()
		l.Subscribers[email] = store.Subscriber{SubscribedAt: at}
		res = ConfirmResult{List: l.Name, Title: l.Title, Email: email, SubscribedAt: at}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrPersistence) {
			s.log.WithError(err).WithField("list", list).WithField("email", email).Error("confirm; subscription not recorded")
		}
		return ConfirmResult{}, err
	}

	s.log.WithField("list", list).WithField("email", email).Info("confirm; subscribed")
	return res, nil
}

func (s *Service) Unsubscribe(list string, email string) (UnsubscribeResult, error) {
	if _, err := lookup(s.store.Snapshot(), list, email); err != nil {
		return UnsubscribeResult{}, err
	}

	var res UnsubscribeResult
	err := s.store.Update(func(root *store.Root) error {
		l, err := findList(root, list)
		if err != nil {
			return err
		}
		if !l.Confirmed(email) {
			return fmt.Errorf("%w: %s on %s", ErrNotConfirmed, email, list)
		}
		delete(l.Subscribers, email)
		res = UnsubscribeResult{List: l.Name, Title: l.Title, Email: email}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrPersistence) {
			s.log.WithError(err).WithField("list", list).WithField("email", email).Error("unsubscribe; removal not recorded")
		}
		return UnsubscribeResult{}, err
	}

	s.log.WithField("list", list).WithField("email", email).Info("unsubscribe; unsubscribed")
	return res, nil
}

func (s *Service) Status(list string, email string) (Status, error) {
	l, err := lookup(s.store.Snapshot(), list, email)
	if err != nil {
		return "", err
	}
	if l.Confirmed(email) {
		return StatusConfirmed, nil
	}
	return StatusUnsubscribed, nil
}
