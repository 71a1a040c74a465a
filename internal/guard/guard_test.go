package guard

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/tools"
	"github.com/stretchr/testify/assert"
)

func newGuard(cfg Config) *Guard {
	return New(cfg, tools.DiscardLogger(), metrics.New(metrics.Config{}, tools.DiscardLogger()))
}

func TestAllowUpToLimit(t *testing.T) {
	g := newGuard(Config{})
	defer g.Stop()

	for i := 1; i <= DefaultLimit; i++ {
		assert.True(t, g.Allow("a@x.com"), "request %d should be allowed", i)
	}
	assert.False(t, g.Allow("a@x.com"), "request 21 is refused")
	assert.False(t, g.Allow("a@x.com"))
	assert.Equal(t, DefaultLimit+2, g.Count("a@x.com"), "refused requests are counted too")

	assert.True(t, g.Allow("b@x.com"), "counters are per address")
}

func TestCustomLimit(t *testing.T) {
	g := newGuard(Config{Limit: 2})
	defer g.Stop()

	assert.True(t, g.Allow("a@x.com"))
	assert.True(t, g.Allow("a@x.com"))
	assert.False(t, g.Allow("a@x.com"))
}

func TestWindowForgets(t *testing.T) {
	g := newGuard(Config{Limit: 1, Window: 50 * time.Millisecond})
	defer g.Stop()

	assert.True(t, g.Allow("a@x.com"))
	assert.False(t, g.Allow("a@x.com"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, g.Count("a@x.com"))
	assert.True(t, g.Allow("a@x.com"))
}

func TestConcurrentAllow(t *testing.T) {
	g := newGuard(Config{})
	defer g.Stop()

	var mu sync.Mutex
	allowed := 0
	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("a@x.com") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultLimit, allowed)
	assert.Equal(t, 100, g.Count("a@x.com"))
	assert.Equal(t, 0, g.Count(fmt.Sprintf("%s@x.com", "nobody")))
}
