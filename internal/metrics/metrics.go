package metrics

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/modfin/mntletter/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServiceName  string
	Push         string
	PushInterval time.Duration
	Poll         bool
	PollUser     string
	PollPassword string
}

// New creates a Metrics with a registry of its own. Collectors registered through Register are exported
// together with the default registry, where the echo middleware puts its http metrics.
func New(c Config, lc *tools.Logger) *Metrics {
	p := &Metrics{
		config:   c,
		logger:   lc.New("prometheus"),
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if c.Push != "" {
		p.pusher = push.New(c.Push, c.ServiceName).Gatherer(p.Gatherer())
	}

	return p
}

type Metrics struct {
	done    chan struct{}
	stopped chan struct{}

	config   Config
	registry *prometheus.Registry
	pusher   *push.Pusher
	logger   *logrus.Logger

	ostart  sync.Once
	ostop   sync.Once
	started bool
}

func (p *Metrics) Start() {
	p.ostart.Do(func() {
		if p.config.PushInterval.Seconds() < 10 {
			p.config.PushInterval = 1 * time.Minute
		}
		if p.pusher == nil {
			return
		}
		p.started = true
		p.logger.Infof("pushing metrics to %s every %s", p.config.Push, p.config.PushInterval)
		go func() {
			defer close(p.stopped)

			ticker := time.NewTicker(p.config.PushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.done:
					p.push()
					return
				case <-ticker.C:
					p.push()
				}
			}
		}()
	})
}

func (p *Metrics) Stop(ctx context.Context) error {
	p.ostop.Do(func() {
		close(p.done)
	})
	if !p.started {
		return nil
	}
	select {
	case <-p.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Metrics) Register() promauto.Factory {
	return promauto.With(p.registry)
}

func (p *Metrics) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{p.registry, prometheus.DefaultGatherer}
}

func (p *Metrics) HttpMetrics() http.HandlerFunc {

	if !p.config.Poll {
		p.logger.Infof("metrics polling is disabled")
		return func(writer http.ResponseWriter, request *http.Request) {
			http.Error(writer, "Not Found", http.StatusNotFound)
		}
	}
	p.logger.Infof("metrics polling is enabled")

	if p.config.PollUser != "" || p.config.PollPassword != "" {
		p.logger.WithField("user", p.config.PollUser).Infof("basic auth enabled for metrics polling endpoint")
	}

	handler := promhttp.HandlerFor(p.Gatherer(), promhttp.HandlerOpts{})
	return func(writer http.ResponseWriter, request *http.Request) {
		if p.config.PollUser != "" || p.config.PollPassword != "" {
			user, pass, ok := request.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(p.config.PollUser)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(p.config.PollPassword)) != 1 {
				http.Error(writer, "Unauthorized.", http.StatusUnauthorized)
				return
			}
		}
		handler.ServeHTTP(writer, request)
	}
}

func (p *Metrics) push() {
	if p.pusher == nil {
		return
	}
	p.logger.Debugf("pushing metrics to %s", p.config.Push)
	err := p.pusher.Push()
	if err != nil {
		p.logger.Errorf("failed to push metrics: %v", err)
	}
}
