package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// pruneThreshold is the key count above which Take drops ended windows.
const pruneThreshold = 4096

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

type window struct {
	start time.Time
	count int
}

// Tracker counts requests per key. Safe for concurrent use.
type Tracker struct {
	limit   Limit
	mu      sync.Mutex
	windows map[string]*window
}

// NewTracker creates a tracker enforcing limit.
func NewTracker(limit Limit) *Tracker {
	return &Tracker{limit: limit, windows: make(map[string]*window)}
}

// Take records one request for key at now. A request over budget is
// reported and not counted. A window resets once it has lasted Window.
func (t *Tracker) Take(key string, now time.Time) CheckResult {
	if !t.limit.Enabled() {
		return CheckResult{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.windows) > pruneThreshold {
		t.prune(now)
	}
	w, ok := t.windows[key]
	if !ok || now.Sub(w.start) >= t.limit.Window {
		w = &window{start: now}
		t.windows[key] = w
	}
	if w.count >= t.limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  w.count,
			Limit:    t.limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				w.count, t.limit.MaxRequests, t.limit.Window),
		}
	}
	w.count++
	return CheckResult{Current: w.count, Limit: t.limit.MaxRequests}
}

// prune drops windows that have ended and returns how many were dropped.
// The caller holds t.mu.
func (t *Tracker) prune(now time.Time) int {
	n := 0
	for k, w := range t.windows {
		if now.Sub(w.start) >= t.limit.Window {
			delete(t.windows, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
