package fetch

import (
	"context"
	"sync"
	"time"
)

// HostLimiter rate-limits requests per media host with a sliding window.
type HostLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	stop   chan struct{}
	once   sync.Once
}

// NewHostLimiter creates a HostLimiter that allows max requests per window
// for each host. A max or window of zero or less disables limiting. Call Stop
// to release the cleanup goroutine.
func NewHostLimiter(max int, window time.Duration) *HostLimiter {
	l := &HostLimiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		stop:   make(chan struct{}),
	}
	if !l.unlimited() {
		go l.cleanup()
	}
	return l
}

func (l *HostLimiter) unlimited() bool {
	return l.max <= 0 || l.window <= 0
}

func (l *HostLimiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-l.window)
		l.mu.Lock()
		for host, hits := range l.hits {
			kept := prune(hits, cutoff)
			if len(kept) == 0 {
				delete(l.hits, host)
			} else {
				l.hits[host] = kept
			}
		}
		l.mu.Unlock()
	}
}

// Stop ends the background cleanup. It is safe to call more than once.
func (l *HostLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow records a request for host if the host is under its limit.
func (l *HostLimiter) Allow(host string) bool {
	ok, _ := l.reserve(host)
	return ok
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	for {
		ok, retry := l.reserve(host)
		if ok {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a hit when allowed, otherwise reports how long until the
// oldest hit leaves the window.
func (l *HostLimiter) reserve(host string) (bool, time.Duration) {
	if l.unlimited() {
		return true, 0
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.hits[host], cutoff)
	if len(kept) < l.max {
		l.hits[host] = append(kept, now)
		return true, 0
	}
	l.hits[host] = kept
	retry := kept[0].Add(l.window).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return false, retry
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
