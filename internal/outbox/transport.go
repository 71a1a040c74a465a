package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/tools"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Transport hands one message to the outside world.
type Transport interface {
	Dispatch(ctx context.Context, msg mntletter.Message, messageID string) error
}

type SMTPConfig struct {
	Host     string        `cli:"smtp-host"`
	Port     int           `cli:"smtp-port"`
	User     string        `cli:"smtp-user"`
	Password string        `cli:"smtp-password"`
	Timeout  time.Duration `cli:"smtp-timeout"`
	From     string        `cli:"admin-email"`
}

// SMTP submits every message over its own connection to a submission server, which takes care of routing.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("an smtp host must be provided")
	}
	if cfg.From == "" {
		return nil, errors.New("a from address must be provided")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTP{cfg: cfg}, nil
}

func (s *SMTP) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func (s *SMTP) Dispatch(ctx context.Context, msg mntletter.Message, messageID string) error {
	m, err := buildMsg(s.cfg.From, msg, messageID)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.options()...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	err = client.DialAndSendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMsg(from string, msg mntletter.Message, messageID string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("failed to set from: %w", err)
	}
	if err := m.To(msg.To.String()); err != nil {
		return nil, fmt.Errorf("failed to set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetMessageIDWithValue(messageID)
	m.SetDate()
	for _, k := range tools.SortedKeys(msg.Headers) {
		m.SetGenHeader(mail.Header(k), msg.Headers[k])
	}
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	return m, nil
}

// Log only logs messages. It is used when no smtp host is configured.
type Log struct {
	log *logrus.Logger
}

func NewLog(lc *tools.Logger) *Log {
	return &Log{log: lc.New("outbox-log")}
}

func (l *Log) Dispatch(ctx context.Context, msg mntletter.Message, messageID string) error {
	l.log.WithField("message-id", messageID).
		WithField("to", msg.To.String()).
		WithField("subject", msg.Subject).
		WithField("kind", msg.Kind.String()).
		Infof("dispatch; not sending, no smtp host configured\n%s", msg.Text)
	return nil
}
