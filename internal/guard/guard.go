package guard

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const DefaultLimit = 20

type Config struct {
	Limit int `cli:"request-limit"`
	// Window > 0 forgets an address Window after its first request. 0 counts for the lifetime of the process.
	Window time.Duration `cli:"request-window"`
}

// Guard bounds how many confirmation mails one address can be made to receive, across all lists. It is an
// abuse bound only, counts are in memory and lost on restart.
type Guard struct {
	cfg    Config
	log    *logrus.Logger
	mu     sync.Mutex
	counts *ttlcache.Cache[string, int]

	denied prometheus.Counter
}

func New(cfg Config, lc *tools.Logger, m *metrics.Metrics) *Guard {
	if cfg.Limit < 1 {
		cfg.Limit = DefaultLimit
	}
	g := &Guard{
		cfg: cfg,
		log: lc.New("guard"),
		counts: ttlcache.New[string, int](
			ttlcache.WithDisableTouchOnHit[string, int](),
		),
		denied: m.Register().NewCounter(prometheus.CounterOpts{
			Name: "mntletter_guard_denied_total",
			Help: "confirmation requests refused because the address reached its limit",
		}),
	}
	if cfg.Window > 0 {
		go g.counts.Start()
	}
	return g
}

// Allow counts a request for email and reports whether the count before it was below the limit.
func (g *Guard) Allow(email string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	ttl := g.cfg.Window
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	if item := g.counts.Get(email); item != nil {
		count = item.Value()
		if g.cfg.Window > 0 {
			ttl = time.Until(item.ExpiresAt())
			if ttl < time.Millisecond {
				ttl = time.Millisecond
			}
		}
	}
	g.counts.Set(email, count+1, ttl)

	if count < g.cfg.Limit {
		return true
	}
	g.denied.Inc()
	g.log.WithField("email", email).WithField("count", count+1).Warn("allow; too many confirmation requests")
	return false
}

// Count is the number of requests seen for email.
func (g *Guard) Count(email string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if item := g.counts.Get(email); item != nil {
		return item.Value()
	}
	return 0
}

func (g *Guard) Stop() {
	if g.cfg.Window > 0 {
		g.counts.Stop()
	}
}
