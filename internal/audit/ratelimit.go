// Package audit holds the security utilities around the vault: attempt
// rate limiting, suspicious-activity monitoring and an advisory
// self-check report. Nothing here is load-bearing for confidentiality;
// it raises the cost of brute force and surfaces misconfiguration.
package audit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when an identifier exhausted its attempt
// budget for the current window.
var ErrRateLimited = errors.New("rate limited")

// Default attempt budget: 5 tries per minute.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

// Limiter is a fixed-window attempt limiter keyed by identifier.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:      max,
		window:   window,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for id and reports whether it was within
// budget. A denied attempt is not recorded, so waiting out the window
// always restores the full budget.
func (l *Limiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(id)
	if len(recent) >= l.max {
		return false
	}
	l.attempts[id] = append(recent, l.now())
	return true
}

// Remaining returns the attempts left in the current window.
func (l *Limiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	left := l.max - len(l.prune(id))
	if left < 0 {
		left = 0
	}
	return left
}

// Reset clears the attempt history for id.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, id)
}

// prune drops attempts older than the window. Caller holds the lock.
func (l *Limiter) prune(id string) []time.Time {
	cutoff := l.now().Add(-l.window)
	var recent []time.Time
	for _, at := range l.attempts[id] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if recent == nil {
		delete(l.attempts, id)
	} else {
		l.attempts[id] = recent
	}
	return recent
}
