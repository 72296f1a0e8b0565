package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window admission gate in front of expensive
// invocations. It is owned by whoever constructs it and passed to every
// caller path; there is no ambient singleton. Heartbeat-originated
// invocations get their own instance so autonomous activity cannot
// starve interactive commands.
type Limiter struct {
	max    int
	window time.Duration
	mu     sync.Mutex
	admits []time.Time
	now    func() time.Time
}

// New creates a limiter admitting at most max calls per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit evicts entries older than the window, then accepts iff the
// remaining count is below the maximum, recording the admission.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.admits[:0]
	for _, t := range l.admits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.admits = kept

	if len(l.admits) >= l.max {
		return false
	}
	l.admits = append(l.admits, now)
	return true
}

// InFlight returns how many admissions are inside the current window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.admits {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
