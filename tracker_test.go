package reflector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

var testAwaitOptions = PollOptions{Interval: time.Millisecond, Timeout: time.Second}

func TestTracker_Find(t *testing.T) {
	var tr Tracker
	id := uuid.New()
	first := FeedbackMessage{CorrelationID: id, Status: StatusError, ErrorCode: ErrorGraphUnavailable}
	tr.Record(FeedbackMessage{CorrelationID: uuid.New(), Status: StatusProcessed})
	tr.Record(first)
	tr.Record(FeedbackMessage{CorrelationID: id, Status: StatusProcessed})

	got, ok := tr.Find(ByCorrelationID(id))
	if !ok {
		t.Fatal("Find() found nothing")
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("Find() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := tr.Find(ByCorrelationID(uuid.New())); ok {
		t.Error("Find() of unrecorded correlation id found something")
	}
	if tr.Len() != 3 || len(tr.All()) != 3 {
		t.Errorf("Len() = %d, len(All()) = %d, want 3", tr.Len(), len(tr.All()))
	}
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() after Reset() = %d", tr.Len())
	}
}

func TestTracker_AwaitMatch(t *testing.T) {
	var tr Tracker
	id := uuid.New()
	want := FeedbackMessage{CorrelationID: id, Status: StatusProcessed, MessageType: DeviceCreate}

	// Every waiter observes the same record; reading does not consume it.
	const waiters = 4
	var wg sync.WaitGroup
	results := make([]FeedbackMessage, waiters)
	errs := make([]error, waiters)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = tr.AwaitMatch(context.Background(), ByCorrelationID(id), testAwaitOptions)
		}()
	}
	time.Sleep(5 * time.Millisecond)
	tr.Record(FeedbackMessage{CorrelationID: uuid.New(), Status: StatusProcessed})
	tr.Record(want)
	wg.Wait()

	for i := range waiters {
		if errs[i] != nil {
			t.Errorf("AwaitMatch(waiter %d) error = %v", i, errs[i])
			continue
		}
		if diff := cmp.Diff(want, results[i]); diff != "" {
			t.Errorf("AwaitMatch(waiter %d) mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestTracker_AwaitMatch_timeout(t *testing.T) {
	var tr Tracker
	id := uuid.New()
	opts := PollOptions{Interval: time.Millisecond, Timeout: 10 * time.Millisecond}

	_, err := tr.AwaitMatch(context.Background(), ByCorrelationID(id), opts)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("AwaitMatch() error = %v, want %v", err, ErrAwaitTimeout)
	}

	// Feedback that arrives after its waiter gave up is still there for a
	// later lookup.
	tr.Record(FeedbackMessage{CorrelationID: id, Status: StatusProcessed})
	if _, ok := tr.Find(ByCorrelationID(id)); !ok {
		t.Error("Find() after timeout found nothing")
	}
	if _, err := tr.AwaitMatch(context.Background(), ByCorrelationID(id), opts); err != nil {
		t.Errorf("AwaitMatch() after timeout error = %v", err)
	}
}

func TestTracker_AwaitMatch_defaultOptions(t *testing.T) {
	var tr Tracker
	id := uuid.New()
	tr.Record(FeedbackMessage{CorrelationID: id, Status: StatusProcessed})

	tests := []struct {
		name string
		id   uuid.UUID
		opts PollOptions
		want error
	}{
		{name: "Zero", id: id, opts: PollOptions{}},
		{name: "ZeroInterval", id: id, opts: PollOptions{Timeout: time.Second}},
		{name: "ZeroIntervalTimesOut", id: uuid.New(), opts: PollOptions{Timeout: 20 * time.Millisecond}, want: ErrAwaitTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.AwaitMatch(context.Background(), ByCorrelationID(tt.id), tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("AwaitMatch(%+v) error = %v, want %v", tt.opts, err, tt.want)
			}
		})
	}
}

func TestTracker_AwaitFeedback(t *testing.T) {
	var tr Tracker
	id := uuid.New()
	tr.Record(FeedbackMessage{CorrelationID: id, Status: StatusError, ErrorCode: ErrorMissingAttribute})

	if _, err := tr.AwaitFeedback(context.Background(), id, StatusError, ErrorMissingAttribute); err != nil {
		t.Errorf("AwaitFeedback() error = %v", err)
	}
	if _, err := tr.AwaitFeedback(context.Background(), id, StatusProcessed, ""); err == nil {
		t.Error("AwaitFeedback() with unexpected status succeeded")
	}
}

func TestTracker_Consume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer sub.Shutdown(ctx)

	var tr Tracker
	done := make(chan error, 1)
	go func() { done <- tr.Consume(ctx, sub) }()

	// An undecodable message is skipped without stopping the consumer.
	if err := topic.Send(ctx, &pubsub.Message{Body: []byte("not json")}); err != nil {
		t.Fatal("Send:", err)
	}
	id := uuid.New()
	e := FeedbackEmitter{Topic: topic}
	if err := e.Emit(ctx, FeedbackMessage{CorrelationID: id, Status: StatusProcessed}); err != nil {
		t.Fatal("Emit:", err)
	}

	if _, err := tr.AwaitMatch(ctx, ByCorrelationID(id), testAwaitOptions); err != nil {
		t.Fatalf("AwaitMatch() error = %v", err)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Consume() error = %v, want nil after cancellation", err)
	}
}
