package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-chat/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var turnLatency, _ = meter.Float64Histogram("ema.turn.latency",
	metric.WithDescription("Backend reported generation latency of completed turns."),
	metric.WithUnit("s"),
)
