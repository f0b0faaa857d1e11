// Package stats tracks process-wide usage counters for the bot: questions
// answered, failures, and the set of distinct users seen since startup.
// The counters back both the /stats chat command and the Prometheus
// metrics exposed by the HTTP server.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters is the explicitly owned statistics object handed to the chat
// adapter at construction. All methods are safe for concurrent use;
// increments are approximate under concurrency, which is acceptable for
// usage reporting.
type Counters struct {
	queries  atomic.Uint64
	failures atomic.Uint64

	mu    sync.Mutex
	users map[int64]struct{}

	startedAt time.Time

	queriesTotal  prometheus.Counter
	failuresTotal prometheus.Counter
	distinctUsers prometheus.GaugeFunc
}

// New constructs Counters and registers the corresponding Prometheus
// metrics against reg. promauto.With(reg) is used so each call registers
// into the provided registry rather than the global default — this keeps
// unit tests hermetic.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		users:     make(map[int64]struct{}),
		startedAt: time.Now(),
	}

	factory := promauto.With(reg)
	c.queriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "cardiobot",
		Subsystem: "chat",
		Name:      "queries_total",
		Help:      "Total number of questions answered since startup.",
	})
	c.failuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "cardiobot",
		Subsystem: "chat",
		Name:      "failures_total",
		Help:      "Total number of questions that ended in an error reply.",
	})
	c.distinctUsers = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cardiobot",
		Subsystem: "chat",
		Name:      "distinct_users",
		Help:      "Number of distinct user IDs seen since startup.",
	}, func() float64 { return float64(c.UserCount()) })

	return c
}

// RecordQuery counts one answered question from the given user.
func (c *Counters) RecordQuery(userID int64) {
	c.queries.Add(1)
	c.queriesTotal.Inc()
	c.recordUser(userID)
}

// RecordFailure counts one failed question from the given user.
func (c *Counters) RecordFailure(userID int64) {
	c.failures.Add(1)
	c.failuresTotal.Inc()
	c.recordUser(userID)
}

func (c *Counters) recordUser(userID int64) {
	c.mu.Lock()
	c.users[userID] = struct{}{}
	c.mu.Unlock()
}

// QueryCount returns the number of questions answered since startup.
func (c *Counters) QueryCount() uint64 { return c.queries.Load() }

// FailureCount returns the number of failed questions since startup.
func (c *Counters) FailureCount() uint64 { return c.failures.Load() }

// UserCount returns the number of distinct user IDs seen since startup.
func (c *Counters) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// Uptime returns the time elapsed since the counters were created.
func (c *Counters) Uptime() time.Duration {
	return time.Since(c.startedAt)
}
