package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

// An Emitter publishes the feedback of handled messages.
//
// An error returned by Emit means the feedback may not have been delivered.
// Callers must not acknowledge the triggering message in that case.
type Emitter interface {
	Emit(ctx context.Context, f FeedbackMessage) error
}

// FeedbackEmitter publishes feedback messages to a topic, encoded as JSON. The
// correlation id, status and error code are duplicated as message metadata so
// that consumers can filter without decoding.
type FeedbackEmitter struct {
	Topic *pubsub.Topic
	// Now stamps feedback that has no timestamp yet. Nil means time.Now.
	Now func() time.Time
}

func (e FeedbackEmitter) Emit(ctx context.Context, f FeedbackMessage) (err error) {
	ctx, span := tracer.Start(ctx, "FeedbackEmitter.Emit", trace.WithAttributes(
		attribute.Stringer("correlation.id", f.CorrelationID),
		attribute.String("feedback.status", string(f.Status)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			emitFailures.Add(ctx, 1)
		}
	}()

	if f.Timestamp.IsZero() {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		f.Timestamp = now().UTC()
	}

	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	msg := &pubsub.Message{
		Body:     body,
		Metadata: feedbackMetadata(f),
	}
	component.Logger(ctx).Debug("Sending feedback message...",
		slog.Any("correlation.id", f.CorrelationID),
		slog.String("status", string(f.Status)),
		slog.String("error.code", string(f.ErrorCode)),
	)
	if err := e.Topic.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func feedbackMetadata(f FeedbackMessage) map[string]string {
	md := map[string]string{
		HeaderCorrelationID: f.CorrelationID.String(),
		HeaderStatus:        string(f.Status),
	}
	if f.MessageType != "" {
		md[HeaderMessageType] = string(f.MessageType)
	}
	if f.ErrorCode != "" {
		md[HeaderErrorCode] = string(f.ErrorCode)
	}
	return md
}

// DecodeFeedback decodes a message published by FeedbackEmitter.
func DecodeFeedback(msg *pubsub.Message) (FeedbackMessage, error) {
	var f FeedbackMessage
	if err := json.Unmarshal(msg.Body, &f); err != nil {
		return FeedbackMessage{}, fmt.Errorf("decode json: %w", err)
	}
	return f, nil
}
