package rediscache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/go-digitaltwin/reflector/rediscache")

var lookups metric.Int64Counter

func init() {
	var err error
	lookups, err = meter.Int64Counter("reflector.tenant_cache.lookups",
		metric.WithDescription("Lookups of the tenant cache, by whether they hit."),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		panic(err)
	}
}

func measureLookup(ctx context.Context, hit bool) {
	lookups.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
		attribute.Bool("cache.hit", hit),
	)))
}
