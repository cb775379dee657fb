// Package ratelimit provides the outbound request limiter shared by the API walkers.
//
// The limiter is a fixed-window counter: at most maxPerWindow requests are granted
// in any window, and once the cap is hit the caller sleeps for the remainder of the
// window. Bursts are therefore possible across a window boundary (up to twice the cap
// in a short interval). To soften this, every grant is also spaced by at least
// window/maxPerWindow, which is enforced by a golang.org/x/time/rate limiter with a
// burst of one.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/metrics"

	"golang.org/x/time/rate"
)

// Defaults matching the Dialpad documented allowance.
const (
	DefaultMaxPerWindow = 1000
	DefaultWindow       = 60 * time.Second
)

// Limiter gates outbound requests.
type Limiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	count       int
	windowStart time.Time
	spacing     *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

// New creates a Limiter granting maxPerWindow requests per window.
func New(maxPerWindow int, window time.Duration, logger *slog.Logger) (*Limiter, error) {
	if maxPerWindow < 1 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", maxPerWindow)
	}
	if window <= 0 {
		return nil, errors.New("rate limit window must be positive")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	l := &Limiter{
		max:    maxPerWindow,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
		log:    logger,
	}
	l.spacing = rate.NewLimiter(rate.Every(l.MinDelay()), 1)
	return l, nil
}

// MinDelay is the minimum spacing between two grants.
func (l *Limiter) MinDelay() time.Duration {
	return l.window / time.Duration(l.max)
}

// Acquire blocks until one more request may be issued, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now()
	if l.windowStart.IsZero() {
		l.windowStart = start
	}

	elapsed := start.Sub(l.windowStart)
	switch {
	case l.count >= l.max && elapsed < l.window:
		wait := l.window - elapsed
		l.log.Info(fmt.Sprintf("rate limit of %d per %s reached, sleeping %s", l.max, l.window, wait.Round(time.Millisecond)))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		l.count = 0
		l.windowStart = l.now()
	case elapsed >= l.window:
		l.count = 0
		l.windowStart = start
	}

	now := l.now()
	r := l.spacing.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			r.CancelAt(now)
			return err
		}
	}
	l.count++
	metrics.RateLimitWaits.Observe(l.now().Sub(start).Seconds())
	return nil
}

// sleepContext sleeps for d unless ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
