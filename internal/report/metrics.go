package report

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("reportql.report")

var (
	// buildDuration measures each stage of a report build.
	// Labels: stage (load, build, reconcile, export), status (success, error)
	buildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reportql",
		Subsystem: "report",
		Name:      "stage_duration_seconds",
		Help:      "Report build stage latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"stage", "status"})

	// recordsAggregated counts records fed into the aggregation stage.
	recordsAggregated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reportql",
		Subsystem: "report",
		Name:      "records_aggregated_total",
		Help:      "Total records aggregated into views",
	})

	// formulaWarnings counts formula failures absorbed into null cells.
	formulaWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reportql",
		Subsystem: "report",
		Name:      "formula_warnings_total",
		Help:      "Total formula evaluation failures absorbed as null",
	})

	// resultCacheLookups counts result cache hits and misses.
	// Labels: result (hit, miss)
	resultCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportql",
		Subsystem: "report",
		Name:      "result_cache_lookups_total",
		Help:      "Report result cache lookups",
	}, []string{"result"})
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
