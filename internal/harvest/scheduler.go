package harvest

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs per-target work with bounded concurrency. After each task
// it sleeps a random delay while still holding its slot so that request
// bursts stay below anti-bot thresholds.
type Scheduler struct {
	limit    int
	delayMin time.Duration
	delayMax time.Duration

	jitter func(lo, hi time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration)
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithJitter replaces the random delay source.
func WithJitter(fn func(lo, hi time.Duration) time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// WithSleeper replaces the delay implementation.
func WithSleeper(fn func(ctx context.Context, d time.Duration)) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewScheduler builds a Scheduler allowing limit concurrent tasks.
func NewScheduler(limit int, delayMin, delayMax time.Duration, opts ...SchedulerOption) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	if delayMax < delayMin {
		delayMax = delayMin
	}
	s := &Scheduler{
		limit:    limit,
		delayMin: delayMin,
		delayMax: delayMax,
		jitter:   uniformJitter,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit reports the concurrency ceiling.
func (s *Scheduler) Limit() int {
	return s.limit
}

// Run submits one task per target in input order and waits for all of them.
// Task failures are absorbed by fn; once ctx is canceled no further targets
// are submitted and ctx.Err() is returned after in-flight tasks finish.
func (s *Scheduler) Run(ctx context.Context, targets []Target, fn func(ctx context.Context, t Target)) error {
	var g errgroup.Group
	g.SetLimit(s.limit)

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, target)
			if d := s.jitter(s.delayMin, s.delayMax); d > 0 {
				s.sleep(ctx, d)
			}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors
	return ctx.Err()
}

func uniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
