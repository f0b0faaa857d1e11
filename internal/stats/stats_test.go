package stats

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCounters_QueriesAndUsers(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())

	// 6 queries from 3 distinct users.
	users := []int64{1, 2, 3, 1, 2, 1}
	for _, u := range users {
		c.RecordQuery(u)
	}

	if got := c.QueryCount(); got != 6 {
		t.Errorf("QueryCount = %d, want 6", got)
	}
	if got := c.UserCount(); got != 3 {
		t.Errorf("UserCount = %d, want 3", got)
	}
	if got := c.FailureCount(); got != 0 {
		t.Errorf("FailureCount = %d, want 0", got)
	}
}

func TestCounters_Failures(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	c.RecordFailure(9)
	c.RecordFailure(9)

	if got := c.FailureCount(); got != 2 {
		t.Errorf("FailureCount = %d, want 2", got)
	}
	// Failed users still count as seen.
	if got := c.UserCount(); got != 1 {
		t.Errorf("UserCount = %d, want 1", got)
	}
}

func TestCounters_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())

	const goroutines = 8
	const perGoroutine = 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				c.RecordQuery(id)
			}
		}(int64(g))
	}
	wg.Wait()

	if got := c.QueryCount(); got != goroutines*perGoroutine {
		t.Errorf("QueryCount = %d, want %d", got, goroutines*perGoroutine)
	}
	if got := c.UserCount(); got != goroutines {
		t.Errorf("UserCount = %d, want %d", got, goroutines)
	}
}

func TestCounters_Uptime(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	if c.Uptime() < 0 {
		t.Error("uptime should not be negative")
	}
}
