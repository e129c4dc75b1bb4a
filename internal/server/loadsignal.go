package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fernbooks/ledgercore/internal/admission"
)

// LoadTracker measures in-flight requests and recent error rate, feeding
// the admission controller's load signal. It implements
// admission.LoadSource.
type LoadTracker struct {
	inFlight atomic.Int64

	mu       sync.Mutex
	window   time.Duration
	requests []time.Time
	errors   []time.Time
}

// NewLoadTracker creates a LoadTracker with the given error-rate window.
func NewLoadTracker(window time.Duration) *LoadTracker {
	if window == 0 {
		window = 30 * time.Second
	}
	return &LoadTracker{window: window}
}

// Sample implements admission.LoadSource.
func (t *LoadTracker) Sample(_ context.Context) admission.LoadSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.window)
	t.requests = trimBefore(t.requests, cutoff)
	t.errors = trimBefore(t.errors, cutoff)

	signal := admission.LoadSignal{InFlight: int(t.inFlight.Load())}
	if n := len(t.requests); n > 0 {
		signal.ErrorRate = float64(len(t.errors)) / float64(n)
	}
	return signal
}

func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	return ts[i:]
}

// Middleware returns a Gin middleware that maintains the tracker's
// in-flight gauge and completion outcomes.
func (t *LoadTracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		t.inFlight.Add(1)
		fernInFlight.Inc()
		c.Next()
		t.inFlight.Add(-1)
		fernInFlight.Dec()

		now := time.Now()
		t.mu.Lock()
		t.requests = append(t.requests, now)
		if c.Writer.Status() >= 500 {
			t.errors = append(t.errors, now)
		}
		t.mu.Unlock()
	}
}
