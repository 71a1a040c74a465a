package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/modfin/henry/compare"
	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/internal/dao"
	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Workers  int           `cli:"workers"`
	Capacity int           `cli:"outbox-capacity"`
	Timeout  time.Duration `cli:"smtp-timeout"`
	From     string        `cli:"admin-email"`
}

// Outbox dispatches messages in the background. Callers never learn the outcome, failures are logged and
// journaled, never retried.
type Outbox struct {
	cfg       Config
	log       *logrus.Logger
	transport Transport
	journal   dao.DAO

	pool  *pond.WorkerPool
	ostop sync.Once

	dispatched *prometheus.CounterVec
}

// New starts the worker pool. journal may be nil.
func New(cfg Config, lc *tools.Logger, transport Transport, journal dao.DAO, m *metrics.Metrics) *Outbox {
	cfg.Workers = compare.Coalesce(cfg.Workers, 5)
	cfg.Capacity = compare.Coalesce(cfg.Capacity, 10000)
	cfg.Timeout = compare.Coalesce(cfg.Timeout, 30*time.Second)

	logger := lc.New("outbox")
	logger.Infof("Starting outbox, with 1-%d workers", cfg.Workers)

	return &Outbox{
		cfg:       cfg,
		log:       logger,
		transport: transport,
		journal:   journal,
		pool:      pond.New(cfg.Workers, cfg.Capacity, pond.MinWorkers(1)),
		dispatched: m.Register().NewCounterVec(prometheus.CounterOpts{
			Name: "mntletter_outbox_dispatched_total",
			Help: "messages handed to the mail transport",
		}, []string{"kind", "status"}),
	}
}

// Enqueue returns once the messages are queued, it does not wait for delivery. Messages are dropped when the
// outbox is stopped or its queue is full.
func (o *Outbox) Enqueue(msgs ...mntletter.Message) {
	for _, msg := range msgs {
		if !o.pool.TrySubmit(o.send(msg)) {
			reason := "queue full"
			if o.pool.Stopped() {
				reason = "outbox stopped"
			}
			o.dispatched.WithLabelValues(msg.Kind.String(), "dropped").Inc()
			o.log.WithField("to", msg.To.String()).WithField("kind", msg.Kind.String()).WithField("reason", reason).Warn("enqueue; dropping message")
		}
	}
}

func (o *Outbox) send(msg mntletter.Message) func() {
	return func() {
		messageID := o.newMessageID()
		l := o.log.WithField("message-id", messageID).
			WithField("to", msg.To.String()).
			WithField("kind", msg.Kind.String()).
			WithField("list", msg.List)

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		defer cancel()

		status := dao.DispatchStatusSent
		var errText string
		err := o.transport.Dispatch(ctx, msg, messageID)
		if err != nil {
			status = dao.DispatchStatusFailed
			errText = err.Error()
			l.WithError(err).Error("send; could not dispatch message")
		} else {
			l.Debug("send; message dispatched")
		}
		o.dispatched.WithLabelValues(msg.Kind.String(), string(status)).Inc()

		if o.journal == nil {
			return
		}
		_, err = o.journal.AddDispatch(dao.Dispatch{
			MessageID: messageID,
			Kind:      msg.Kind.String(),
			List:      msg.List,
			MailingID: msg.MailingID,
			Rcpt:      msg.To.Email,
			Status:    status,
			Error:     errText,
		})
		if err != nil {
			l.WithError(err).Warn("send; could not journal dispatch")
		}
	}
}

func (o *Outbox) newMessageID() string {
	domain, err := tools.DomainOfEmail(o.cfg.From)
	if err != nil {
		domain = tools.Hostname()
	}
	return fmt.Sprintf("%s@%s", xid.New().String(), domain)
}

// Stop waits for queued messages to be dispatched, or for ctx to be done.
func (o *Outbox) Stop(ctx context.Context) error {
	var err error
	o.ostop.Do(func() {
		done := make(chan struct{})
		go func() {
			o.pool.StopAndWait()
			close(done)
		}()

		select {
		case <-done:
			o.log.Info("outbox has been shut down")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
