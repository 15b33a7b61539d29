package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bulc-app/license-server/internal/clock"
)

// MemoryLimiter is a sliding-window limiter for single-instance deployments
// and tests. Attempts older than the window stop counting, so a caller who
// bursts to the limit regains capacity gradually rather than all at once.
type MemoryLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	limit     int
	window    time.Duration
	attempts  map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryLimiter(clk clock.Clock, limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		clock:     clk,
		limit:     limit,
		window:    window,
		attempts:  make(map[string][]time.Time),
		lastSweep: clk.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	// At most one full scan per window keeps the map from growing with every
	// distinct caller the process has ever seen.
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.attempts[key] = kept
		return false, nil
	}
	l.attempts[key] = append(kept, now)
	return true, nil
}

// sweep drops keys whose attempts have all aged out of the window.
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, attempts := range l.attempts {
		live := false
		for _, t := range attempts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.attempts, key)
		}
	}
}
