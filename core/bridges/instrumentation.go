package bridges

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-graph/core/bridges"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	generationCounter, _ = meter.Int64Counter("bridge.generations",
		metric.WithDescription("Generation tasks by terminal state"))
	routingErrorCounter, _ = meter.Int64Counter("bridge.routing_errors",
		metric.WithDescription("Events dropped by failing filter or map stages"))
	droppedEventCounter, _ = meter.Int64Counter("bridge.busy_drops",
		metric.WithDescription("Trigger events dropped while a generation was active"))
)
