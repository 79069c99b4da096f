package neo4jgraph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/reflector/neo4jgraph")
var meter = otel.Meter("github.com/go-digitaltwin/reflector/neo4jgraph")

var (
	// operationFailures counts failed graph operations, labelled by operation.
	operationFailures metric.Int64Counter
)

func init() {
	// Encountering an error during an instrument's initialisation triggers a
	// panic. This should not occur; if it does, it is likely related to the
	// options applied on the instrument.
	var err error
	operationFailures, err = meter.Int64Counter(
		"neo4jgraph.operation.failures",
		metric.WithDescription("The number of graph operations that have failed."),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jgraph: failed to init 'neo4jgraph.operation.failures' instrument: %v", err)
		panic(s)
	}
}

func measureFailure(ctx context.Context, op string) {
	operationFailures.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
		attribute.String("operation", op),
	)))
}
