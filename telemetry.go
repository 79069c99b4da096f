package reflector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/reflector")
var meter = otel.Meter("github.com/go-digitaltwin/reflector")

const (
	// messageTypeKey associates each record with the MessageType of the handled
	// message, so that handling can be analysed per kind of mutation.
	messageTypeKey = "message.type"
	// outcomeKey associates each record with the status of the feedback that was
	// produced: PROCESSED, or the ErrorCode of a failed message.
	outcomeKey = "outcome"
	// resourceKindKey associates each provisioning record with the ResourceKind.
	resourceKindKey = "resource.kind"
)

var (
	// messageDuration measures the duration of handling a single message, from
	// decoding until its feedback is ready to be published.
	//
	// Each record is associated with messageTypeKey and outcomeKey.
	messageDuration metric.Float64Histogram
	// messagesDropped counts messages that were dropped without feedback because
	// they carried no valid correlation id.
	messagesDropped metric.Int64Counter
	// emitFailures counts feedback messages that could not be published.
	emitFailures metric.Int64Counter
	// provisioningDuration measures the time it took to ensure a ready resource.
	//
	// Each record is associated with resourceKindKey.
	provisioningDuration metric.Float64Histogram
	// provisioningFailures counts failed attempts to ensure a ready resource.
	//
	// Each record is associated with resourceKindKey.
	provisioningFailures metric.Int64Counter
)

func init() {
	var err error
	messageDuration, err = meter.Float64Histogram(
		"reflector.message.duration",
		metric.WithDescription("The duration of handling a single inbound message, until its feedback is ready to be published."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("reflector: failed to init 'reflector.message.duration' instrument")
	}

	messagesDropped, err = meter.Int64Counter(
		"reflector.message.dropped",
		metric.WithDescription("The number of inbound messages dropped for lack of a valid correlation id."),
	)
	if err != nil {
		panic("reflector: failed to init 'reflector.message.dropped' instrument")
	}

	emitFailures, err = meter.Int64Counter(
		"reflector.feedback.failures",
		metric.WithDescription("The number of feedback messages that could not be published."),
	)
	if err != nil {
		panic("reflector: failed to init 'reflector.feedback.failures' instrument")
	}

	provisioningDuration, err = meter.Float64Histogram(
		"reflector.provisioning.duration",
		metric.WithDescription("The duration of ensuring a ready resource, including the wait for its readiness."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("reflector: failed to init 'reflector.provisioning.duration' instrument")
	}

	provisioningFailures, err = meter.Int64Counter(
		"reflector.provisioning.failures",
		metric.WithDescription("The number of attempts to ensure a ready resource that have failed."),
	)
	if err != nil {
		panic("reflector: failed to init 'reflector.provisioning.failures' instrument")
	}
}

// measureHandling records the duration of handling a message, labelled with its
// type and outcome. An empty code means the message was processed.
//
// According to [metric] documentation, [metric.WithAttributeSet] should be used
// instead of [metric.WithAttributes] for performance optimization.
func measureHandling(ctx context.Context, t MessageType, code ErrorCode, d time.Duration) {
	outcome := string(StatusProcessed)
	if code != "" {
		outcome = string(code)
	}
	attrs := attribute.NewSet(
		attribute.String(messageTypeKey, string(t)),
		attribute.String(outcomeKey, outcome),
	)
	// We use floating-point division here for higher precision (instead of the
	// Millisecond method).
	duration := float64(d) / float64(time.Millisecond)
	messageDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
}

func measureDropped(ctx context.Context) {
	messagesDropped.Add(ctx, 1)
}

// measureProvisioning records the duration of a successful provisioning, or
// increments the failure counter otherwise.
func measureProvisioning(ctx context.Context, kind ResourceKind, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(resourceKindKey, string(kind)))
	if succeeded {
		duration := float64(d) / float64(time.Millisecond)
		provisioningDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		provisioningFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
