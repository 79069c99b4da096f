package reflector

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned by Poll when its condition did not hold before the
// configured timeout elapsed.
var ErrPollTimeout = errors.New("poll: timed out")

// PollOptions bound a Poll.
type PollOptions struct {
	// InitialDelay is waited once before the condition is first evaluated.
	InitialDelay time.Duration
	// Interval is waited between consecutive evaluations. It must be positive.
	Interval time.Duration
	// Timeout is the ceiling of the entire poll, including the initial delay. A
	// zero Timeout leaves the poll bounded only by its context.
	Timeout time.Duration
}

// A PollFunc evaluates a condition. It returns the observed value, whether the
// condition holds, and an error that aborts the poll.
type PollFunc[T any] func(ctx context.Context) (v T, done bool, err error)

// Poll evaluates cond until it reports done, returns an error, or the poll is
// bounded out. It returns the value of the last evaluation.
//
// Poll returns ErrPollTimeout when opts.Timeout elapses, and the cause of the
// context otherwise when ctx is cancelled. In both cases, the returned value is
// that of the last evaluation (or the zero value if there was none), so callers
// can report what they last observed.
func Poll[T any](ctx context.Context, opts PollOptions, cond PollFunc[T]) (T, error) {
	if opts.Interval <= 0 {
		panic("reflector: poll interval must be positive")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, ErrPollTimeout)
		defer cancel()
	}

	var last T
	timer := time.NewTimer(opts.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return last, context.Cause(ctx)
		case <-timer.C:
		}

		v, done, err := cond(ctx)
		last = v
		if err != nil {
			// The condition may have failed only because the poll was bounded out while
			// it was evaluated; report the bound rather than its symptom.
			if ctx.Err() != nil {
				return last, context.Cause(ctx)
			}
			return last, err
		}
		if done {
			return last, nil
		}
		timer.Reset(opts.Interval)
	}
}
