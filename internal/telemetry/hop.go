package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var routingTracer = otel.Tracer("flock/routing")

// StartHop opens a span for one routing hop (JOIN, REGISTER or RESOLVE
// landing on this node), carrying the hop count the caller passes and
// the node's own range. The wire protocol carries no trace headers and
// no hop counter, so each hop starts a fresh root span rather than
// continuing the caller's trace, and internal/node passes a hop count
// of 1 on every landing.
func StartHop(ctx context.Context, verb string, hopCount int, lower, upper uint64) (context.Context, trace.Span) {
	return routingTracer.Start(ctx, "ring."+verb,
		trace.WithAttributes(
			attribute.Int("flock.hop_count", hopCount),
			attribute.Int64("flock.range.lower", int64(lower)),
			attribute.Int64("flock.range.upper", int64(upper)),
		),
	)
}
