// Package ratelimit serializes outbound remote reads behind a minimum
// inter-call interval.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the default minimum spacing between remote calls.
const DefaultMinInterval = 1 * time.Second

// Gate blocks callers until at least the configured interval has elapsed
// since the previous caller was released. The watermark is shared across all
// callers; the gate protects the remote endpoint from bursts, not individual
// streams from contention.
type Gate struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastCall    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// WithSleep sets the sleep function, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GateOption {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// NewGate creates a gate with the given minimum interval.
// Zero or negative interval falls back to DefaultMinInterval.
func NewGate(minInterval time.Duration, opts ...GateOption) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	g := &Gate{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wait blocks until the minimum interval has elapsed since the previous
// caller was released. Returns early only on context cancellation.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.now()
	wait := g.minInterval - now.Sub(g.lastCall)
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind each other instead of racing for the same watermark.
	g.lastCall = now.Add(wait)
	g.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return g.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
