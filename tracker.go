package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"gocloud.dev/pubsub"
)

// ErrAwaitTimeout is returned by Tracker.AwaitMatch when no recorded feedback
// matched before the configured ceiling.
var ErrAwaitTimeout = errors.New("await feedback: timed out")

// DefaultAwaitOptions bound Tracker.AwaitMatch. The initial delay absorbs the
// latency of in-flight publishes.
var DefaultAwaitOptions = PollOptions{
	InitialDelay: 100 * time.Millisecond,
	Interval:     10 * time.Millisecond,
	Timeout:      time.Minute,
}

// A FeedbackFunc selects feedback messages.
type FeedbackFunc func(FeedbackMessage) bool

// Tracker is an append-only log of observed feedback messages that callers can
// query and wait on.
//
// Reading the log never consumes it: any number of concurrent waiters may match
// the same record, and a record appended after its waiter gave up remains
// visible to later lookups.
//
// Tracker is safe for concurrent use. The zero value is an empty log.
type Tracker struct {
	mu  sync.RWMutex
	log []FeedbackMessage
}

// Record appends f to the log. Once Record returns, f is visible to Find and to
// every waiter.
func (t *Tracker) Record(f FeedbackMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, f)
}

// Find returns the earliest recorded feedback message that matches pred.
func (t *Tracker) Find(pred FeedbackFunc) (f FeedbackMessage, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := slices.IndexFunc(t.log, pred)
	if i < 0 {
		return FeedbackMessage{}, false
	}
	return t.log[i], true
}

// All returns a copy of every recorded feedback message, in order of record.
func (t *Tracker) All() []FeedbackMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.log)
}

// Len returns the number of recorded feedback messages.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.log)
}

// Reset empties the log. It is meant for test sessions that reuse a Tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = nil
}

// AwaitMatch waits until a feedback message matching pred is recorded and
// returns it. It fails with ErrAwaitTimeout once opts.Timeout elapses, and with
// the cause of ctx if ctx is done first.
//
// Zero options mean DefaultAwaitOptions; a non-positive Interval means that of
// DefaultAwaitOptions.
func (t *Tracker) AwaitMatch(ctx context.Context, pred FeedbackFunc, opts PollOptions) (FeedbackMessage, error) {
	if opts == (PollOptions{}) {
		opts = DefaultAwaitOptions
	} else if opts.Interval <= 0 {
		opts.Interval = DefaultAwaitOptions.Interval
	}
	f, err := Poll(ctx, opts, func(context.Context) (FeedbackMessage, bool, error) {
		f, ok := t.Find(pred)
		return f, ok, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return FeedbackMessage{}, ErrAwaitTimeout
	}
	return f, err
}

// AwaitFeedback waits with DefaultAwaitOptions for the feedback of the given
// correlation id, and checks that it reports the expected status and error
// code.
func (t *Tracker) AwaitFeedback(ctx context.Context, id uuid.UUID, status Status, code ErrorCode) (FeedbackMessage, error) {
	f, err := t.AwaitMatch(ctx, ByCorrelationID(id), DefaultAwaitOptions)
	if err != nil {
		return f, fmt.Errorf("await %v: %w", id, err)
	}
	if f.Status != status || f.ErrorCode != code {
		return f, fmt.Errorf("feedback of %v is %v/%v, expected %v/%v", id, f.Status, f.ErrorCode, status, code)
	}
	return f, nil
}

// ByCorrelationID returns a FeedbackFunc that selects the feedback of the given
// correlation id.
func ByCorrelationID(id uuid.UUID) FeedbackFunc {
	return func(f FeedbackMessage) bool {
		return f.CorrelationID == id
	}
}

// Consume records every feedback message received from sub until ctx is done
// or receiving fails. Messages that cannot be decoded are acknowledged and
// skipped.
func (t *Tracker) Consume(ctx context.Context, sub *pubsub.Subscription) error {
	logger := component.Logger(ctx)
	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		f, err := DecodeFeedback(msg)
		if err != nil {
			logger.Warn("Skipping undecodable feedback message",
				slog.String("msg.id", msg.LoggableID),
				slog.Any("error", err),
			)
		} else {
			t.Record(f)
		}
		msg.Ack()
	}
}

// TrackFeedback returns a component.Proc that records every feedback message
// received from sub in t.
func TrackFeedback(t *Tracker, sub *pubsub.Subscription) component.Proc {
	return func(l *component.L) {
		if err := t.Consume(l.GraceContext(), sub); err != nil {
			l.Fatal(fmt.Errorf("track feedback: %w", err))
		}
	}
}
