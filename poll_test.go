package reflector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoll(t *testing.T) {
	opts := PollOptions{Interval: time.Millisecond, Timeout: time.Second}
	errBroken := errors.New("broken")

	tests := []struct {
		name string
		opts PollOptions
		// done reports whether the condition holds on the given evaluation,
		// counted from 1.
		done    func(n int) (bool, error)
		want    int
		wantErr error
	}{
		{
			name: "HoldsImmediately",
			opts: opts,
			done: func(int) (bool, error) { return true, nil },
			want: 1,
		},
		{
			name: "HoldsEventually",
			opts: opts,
			done: func(n int) (bool, error) { return n == 5, nil },
			want: 5,
		},
		{
			name:    "Fails",
			opts:    opts,
			done:    func(n int) (bool, error) { return false, errBroken },
			want:    1,
			wantErr: errBroken,
		},
		{
			name:    "TimesOut",
			opts:    PollOptions{Interval: time.Millisecond, Timeout: 20 * time.Millisecond},
			done:    func(int) (bool, error) { return false, nil },
			wantErr: ErrPollTimeout,
		},
		{
			name:    "InitialDelayCountsTowardsTimeout",
			opts:    PollOptions{InitialDelay: time.Second, Interval: time.Millisecond, Timeout: 10 * time.Millisecond},
			done:    func(int) (bool, error) { return true, nil },
			want:    0,
			wantErr: ErrPollTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n int
			got, err := Poll(context.Background(), tt.opts, func(context.Context) (int, bool, error) {
				n++
				done, err := tt.done(n)
				return n, done, err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Poll() error = %v, want %v", err, tt.wantErr)
			}
			// A timed-out poll returns its last observation, whatever it was.
			if tt.wantErr == ErrPollTimeout {
				if got != n {
					t.Errorf("Poll() = %v, want last evaluation %v", got, n)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Poll() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoll_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n int
	_, err := Poll(ctx, PollOptions{Interval: time.Millisecond}, func(context.Context) (int, bool, error) {
		n++
		if n == 3 {
			cancel()
		}
		return n, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want %v", err, context.Canceled)
	}
}

// A condition that fails because the poll timed out while it ran reports the
// timeout, not the condition's own error.
func TestPoll_conditionBoundedOut(t *testing.T) {
	opts := PollOptions{Interval: time.Millisecond, Timeout: 10 * time.Millisecond}
	_, err := Poll(context.Background(), opts, func(ctx context.Context) (int, bool, error) {
		<-ctx.Done()
		return 0, false, ctx.Err()
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("Poll() error = %v, want %v", err, ErrPollTimeout)
	}
}

func TestPoll_invalidInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Poll() with zero interval did not panic")
		}
	}()
	_, _ = Poll(context.Background(), PollOptions{}, func(context.Context) (int, bool, error) {
		return 0, true, nil
	})
}
