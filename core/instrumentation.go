package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-graph/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	broadcastCounter, _ = meter.Int64Counter("orchestration.events",
		metric.WithDescription("Events appended to the shared context by source"))
	leakedTaskCounter, _ = meter.Int64Counter("orchestration.leaked_tasks",
		metric.WithDescription("Nodes whose generation did not stop within the shutdown grace period"))
)
