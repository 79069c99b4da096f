package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of messages a Pipeline handles concurrently
// unless configured otherwise.
const DefaultWorkers = 8

// A handler applies a single message to the graph on behalf of a tenant.
//
// Handlers validate the message before their first mutation, so a message
// rejected for missing attributes leaves nothing behind.
type handler func(ctx context.Context, tc TenantContext, m IngressMessage) error

// Pipeline applies inbound messages to the graph and reports the outcome of
// each one as exactly one FeedbackMessage.
//
// Every failure reachable from handling a message, a panic included, is
// converted to ERROR feedback. Messages are never retried by the Pipeline; a
// message whose feedback could not be published is not acknowledged, so the bus
// redelivers it.
type Pipeline struct {
	Graph    Graph
	Tenants  TenantResolver
	Feedback Emitter
	// Workers bounds the number of messages handled concurrently by Serve. Zero
	// means DefaultWorkers.
	Workers int
	// HandleTimeout bounds the graph operations of a single message. A message
	// that exceeds it fails with ErrorGraphUnavailable. Zero means no bound.
	HandleTimeout time.Duration

	types    TypeRegistry
	handlers map[MessageType]handler
}

// NewPipeline returns a Pipeline that applies messages to g on behalf of the
// tenants resolved by tenants, and reports their outcomes to feedback.
func NewPipeline(g Graph, tenants TenantResolver, feedback Emitter) *Pipeline {
	p := &Pipeline{
		Graph:    g,
		Tenants:  tenants,
		Feedback: feedback,
		types:    TypeRegistry{Types: g},
	}
	p.handlers = map[MessageType]handler{
		DeviceCreate:   p.createDevice,
		DeviceUpdate:   p.updateDevice,
		DeviceDelete:   p.deleteDevice,
		SensorCreate:   p.createSensor,
		SensorDelete:   p.deleteSensor,
		PropertyUpdate: p.updateProperties,
	}
	if err := p.validate(); err != nil {
		panic("reflector: " + err.Error())
	}
	return p
}

// validate checks that every MessageType is dispatched to a handler.
func (p *Pipeline) validate() error {
	for _, t := range MessageTypes() {
		if p.handlers[t] == nil {
			return fmt.Errorf("no handler for message type %v", t)
		}
	}
	return nil
}

// Run returns a component.Proc that serves messages received from sub until
// the component shuts down. It fails the component if feedback cannot be
// published or receiving fails.
func (p *Pipeline) Run(sub *pubsub.Subscription) component.Proc {
	return func(l *component.L) {
		if err := p.Serve(l.GraceContext(), sub); err != nil {
			l.Fatal(fmt.Errorf("serve: %w", err))
		}
	}
}

// Serve receives messages from sub and handles up to Workers of them
// concurrently. It returns nil once ctx is done and every in-flight message has
// been handled, or the first error returned by Handle or by receiving.
//
// Messages already received when ctx is done are handled to completion.
func (p *Pipeline) Serve(ctx context.Context, sub *pubsub.Subscription) error {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	// In-flight messages are detached from every cancellation, including that of a
	// failed worker, so each still gets its feedback. HandleTimeout bounds them.
	handleCtx := context.WithoutCancel(gctx)

	var receiveErr error
	for {
		msg, err := sub.Receive(gctx)
		if err != nil {
			if gctx.Err() == nil {
				receiveErr = fmt.Errorf("receive: %w", err)
			}
			break
		}
		g.Go(func() error {
			return p.Handle(handleCtx, msg)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return receiveErr
}

// Handle handles a single message received from the bus: it decodes the
// message, applies it to the graph, publishes its feedback, and only then
// acknowledges it.
//
// Handle returns an error only when the feedback could not be published, in
// which case the message is not acknowledged. A message without a valid
// correlation id cannot be answered; it is acknowledged and dropped.
func (p *Pipeline) Handle(ctx context.Context, msg *pubsub.Message) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Handle", trace.WithAttributes(
		attribute.String("msg.id", msg.LoggableID),
	))
	defer span.End()
	logger := component.Logger(ctx).With(slog.String("msg.id", msg.LoggableID))

	d, err := DecodeDelivery(msg)
	if errors.Is(err, errNoCorrelationID) {
		logger.Error("Dropping message that cannot be correlated", slog.Any("error", err))
		measureDropped(ctx)
		msg.Ack()
		return nil
	}
	logger = logger.With(
		slog.Any("correlation.id", d.CorrelationID),
		slog.String("message.type", string(d.Type)),
	)
	ctx = component.InjectLogger(ctx, logger)
	span.SetAttributes(attribute.Stringer("correlation.id", d.CorrelationID))

	start := time.Now()
	var f FeedbackMessage
	if err != nil {
		logger.Warn("Rejecting malformed message", slog.Any("error", err))
		f = Failed(d, Classify(err), err.Error())
	} else {
		f = p.Process(ctx, d)
	}
	measureHandling(ctx, d.Type, f.ErrorCode, time.Since(start))

	if err := p.Feedback.Emit(ctx, f); err != nil {
		err = fmt.Errorf("emit feedback of %v: %w", d.CorrelationID, err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Couldn't publish feedback, leaving message unacknowledged", slog.Any("error", err))
		if msg.Nackable() {
			msg.Nack()
		}
		return err
	}
	msg.Ack()
	return nil
}

var errNoCorrelationID = errors.New("no valid correlation id")

// DecodeDelivery decodes the headers and payload of a message received from the
// bus.
//
// DecodeDelivery checks the correlation id header first. Once it is valid, any
// other failure still returns a Delivery that carries the correlation id, so
// that the message can be answered.
func DecodeDelivery(msg *pubsub.Message) (Delivery, error) {
	var d Delivery
	d.Metadata = msg.Metadata

	id, err := uuid.Parse(msg.Metadata[HeaderCorrelationID])
	if err != nil || id == uuid.Nil {
		return d, fmt.Errorf("%w: header %q is %q", errNoCorrelationID, HeaderCorrelationID, msg.Metadata[HeaderCorrelationID])
	}
	d.CorrelationID = id

	d.Type, err = ParseMessageType(msg.Metadata[HeaderMessageType])
	if err != nil {
		return d, malformed(fmt.Errorf("header %q: %w", HeaderMessageType, err))
	}
	if err := json.Unmarshal(msg.Body, &d.Message); err != nil {
		return d, malformed(fmt.Errorf("decode json: %w", err))
	}
	return d, nil
}

// Process applies a decoded message to the graph and returns its feedback. It
// never fails: every error, and any panic, is reported in the feedback.
func (p *Pipeline) Process(ctx context.Context, d Delivery) (f FeedbackMessage) {
	logger := component.Logger(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while handling message",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			f = Failed(d, ErrorInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	if p.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.HandleTimeout)
		defer cancel()
	}

	h, ok := p.handlers[d.Type]
	if !ok {
		return Failed(d, ErrorMalformedMessage, fmt.Sprintf("unknown message type %q", d.Type))
	}

	logger.Debug("Resolving tenant...")
	tc, err := p.Tenants.ResolveTenant(ctx, d)
	if err != nil {
		code := Classify(err)
		if code == ErrorEntityNotFound {
			code = ErrorTenantNotFound
		}
		logger.Warn("Couldn't resolve tenant", slog.String("error.code", string(code)), slog.Any("error", err))
		return Failed(d, code, err.Error())
	}

	logger.Debug("Applying message...", slog.Any("tenant", tc.Tenant))
	if err := h(ctx, tc, d.Message); err != nil {
		code := Classify(err)
		logger.Warn("Couldn't apply message", slog.String("error.code", string(code)), slog.Any("error", err))
		return Failed(d, code, err.Error())
	}
	logger.Info("Message applied")
	return Processed(d)
}
