package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// creationRateLimiter throttles order placement per customer with a fixed
// window counter. It exists to absorb double-submitted carts and runaway
// retry loops, not to shape overall traffic; customers hitting the ceiling
// get a 429 and can retry once the window rolls over.
type creationRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]creationWindow
}

type creationWindow struct {
	placed   int
	rollover time.Time
}

func newCreationRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &creationRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]creationWindow),
	}
}

// Allow reports whether the customer may place another order right now and,
// when allowed, counts the placement against the current window.
func (l *creationRateLimiter) Allow(customerID string) bool {
	if l == nil {
		return true
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		customerID = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	window, ok := l.windows[customerID]
	if !ok || now.After(window.rollover) {
		l.windows[customerID] = creationWindow{placed: 1, rollover: now.Add(l.window)}
		l.dropStaleLocked(now)
		return true
	}

	if window.placed >= l.limit {
		return false
	}
	window.placed++
	l.windows[customerID] = window
	return true
}

// dropStaleLocked evicts rolled-over windows so the map does not grow with
// one entry per customer forever. Callers must hold l.mu.
func (l *creationRateLimiter) dropStaleLocked(now time.Time) {
	for customerID, window := range l.windows {
		if now.After(window.rollover) {
			delete(l.windows, customerID)
		}
	}
}
