package reflector_test

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/danielorbach/go-component/loader"
	"github.com/google/uuid"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/go-digitaltwin/reflector"
	"github.com/go-digitaltwin/reflector/memgraph"
)

// A reflector usually runs as a component of the Atmosphere ecosystem, linked
// to an inbound interest and a feedback aspect.
const (
	inboundInterest  = "reflector.inbound"
	feedbackAspect   = "reflector.feedback"
	feedbackInterest = "reflector.feedback"
)

// Tracker records the feedback the Component observes, e.g. for an HTTP
// surface such as httpapi.
var Tracker reflector.Tracker

// Component describes an exemplar reflector deployment. Its graph lives in
// memory and every message belongs to a single tenant; deployments use
// neo4jgraph and GraphTenantResolver instead.
var Component = component.Descriptor{
	Name: "reflector",
	Doc:  "Mirrors device and sensor messages into the digital-twin graph.",
	Bootstrap: func(l *component.L, target component.Linker, options any) error {
		logger := component.Logger(l.Context())

		logger.Debug("Opening interest subscription...", slog.String("topic-name", inboundInterest))
		inbound, err := target.LinkInterest(l.GraceContext(), inboundInterest)
		if err != nil {
			return fmt.Errorf("open interest %q: %w", inboundInterest, err)
		}
		l.CleanupBackground(inbound.Shutdown)

		logger.Debug("Opening aspect topic...", slog.String("topic-name", feedbackAspect))
		feedback, err := target.LinkAspect(l.GraceContext(), feedbackAspect)
		if err != nil {
			return fmt.Errorf("open aspect %q: %w", feedbackAspect, err)
		}
		l.CleanupContext(feedback.Shutdown)

		g := memgraph.New()
		tenant, err := reflector.Provisioner{Graph: g}.EnsureTenant(l.Context(), "acme")
		if err != nil {
			return fmt.Errorf("ensure tenant: %w", err)
		}
		p := reflector.NewPipeline(g, reflector.StaticTenant{Tenant: tenant}, reflector.FeedbackEmitter{Topic: feedback})
		l.Fork("ingress", p.Run(inbound))

		observed, err := target.LinkInterest(l.GraceContext(), feedbackInterest)
		if err != nil {
			return fmt.Errorf("open interest %q: %w", feedbackInterest, err)
		}
		l.CleanupBackground(observed.Shutdown)
		l.Fork("track feedback", reflector.TrackFeedback(&Tracker, observed))

		return nil
	},
	Aspects:   []string{feedbackAspect},
	Interests: []string{inboundInterest, feedbackInterest},
}

func ExamplePipeline_component() {
	loader.ParseFlags(&Component)
	// A deployable executable must know how to load its component descriptors;
	// see cmd/reflector for one that opens the bus by URL instead.
}

// Process applies a single delivery and returns its feedback, without a bus.
func ExamplePipeline_Process() {
	ctx := context.Background()
	g := memgraph.New()
	tenant, err := reflector.Provisioner{Graph: g}.EnsureTenant(ctx, "acme")
	if err != nil {
		panic(err)
	}

	var discard discardEmitter
	p := reflector.NewPipeline(g, reflector.StaticTenant{Tenant: tenant}, discard)

	d := reflector.Delivery{
		CorrelationID: uuid.MustParse("7b0c54d8-3f65-4d4f-9f0b-1b3c0c2b9a11"),
		Type:          reflector.DeviceCreate,
		Message: reflector.IngressMessage{
			ID: "thermostat-1",
			Attributes: map[string]string{
				reflector.AttrType:    "Thermostat",
				reflector.AttrSubtype: "Wall",
			},
		},
	}
	f := p.Process(ctx, d)
	fmt.Println(f.Status, f.ErrorCode == "")

	f = p.Process(ctx, d)
	fmt.Println(f.Status, f.ErrorCode)
	// Output:
	// PROCESSED true
	// ERROR DUPLICATE_HARDWARE_ID
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, reflector.FeedbackMessage) error { return nil }

// Feedback published by a pipeline can be observed with a Tracker, e.g. to
// await the outcome of a message sent by a test.
func ExampleTracker_AwaitFeedback() {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer sub.Shutdown(ctx)

	var tracker reflector.Tracker
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- tracker.Consume(consumeCtx, sub) }()

	id := uuid.MustParse("2f1e3f4c-0d0a-4d43-8c0e-93b1bf1d5e0e")
	emitter := reflector.FeedbackEmitter{Topic: topic}
	if err := emitter.Emit(ctx, reflector.FeedbackMessage{CorrelationID: id, Status: reflector.StatusProcessed}); err != nil {
		panic(err)
	}

	f, err := tracker.AwaitFeedback(ctx, id, reflector.StatusProcessed, "")
	if err != nil {
		panic(err)
	}
	fmt.Println(f.CorrelationID, f.Status)

	stop()
	<-done
	// Output:
	// 2f1e3f4c-0d0a-4d43-8c0e-93b1bf1d5e0e PROCESSED
}
