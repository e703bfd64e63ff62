package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/dafibh/deskflow/deskflow-backend"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Saga metrics
	SagaRunsTotal                 metric.Int64Counter
	SagaFailuresTotal             metric.Int64Counter
	SagaStepDuration              metric.Float64Histogram
	SagaCompensationsTotal        metric.Int64Counter
	SagaCompensationFailuresTotal metric.Int64Counter
	SagaUncleanRollbacksTotal     metric.Int64Counter

	// Idempotency metrics
	IdempotencyHitsTotal   metric.Int64Counter
	IdempotencyMissesTotal metric.Int64Counter
	IdempotencyEntries     metric.Int64UpDownCounter

	// Gateway metrics
	GatewayCallDuration metric.Float64Histogram
	GatewayErrorsTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SagaRunsTotal, _ = meter.Int64Counter(
		"deskflow.saga.runs.total",
		metric.WithDescription("Total number of saga runs started"),
		metric.WithUnit("{run}"),
	)

	m.SagaFailuresTotal, _ = meter.Int64Counter(
		"deskflow.saga.failures.total",
		metric.WithDescription("Total number of saga runs that failed at a step"),
		metric.WithUnit("{run}"),
	)

	m.SagaStepDuration, _ = meter.Float64Histogram(
		"deskflow.saga.step.duration",
		metric.WithDescription("Duration of saga step executions"),
		metric.WithUnit("ms"),
	)

	m.SagaCompensationsTotal, _ = meter.Int64Counter(
		"deskflow.saga.compensations.total",
		metric.WithDescription("Total number of completed steps rolled back"),
		metric.WithUnit("{step}"),
	)

	m.SagaCompensationFailuresTotal, _ = meter.Int64Counter(
		"deskflow.saga.compensations.errors.total",
		metric.WithDescription("Total number of compensations that gave up after retries"),
		metric.WithUnit("{step}"),
	)

	m.SagaUncleanRollbacksTotal, _ = meter.Int64Counter(
		"deskflow.saga.unclean.total",
		metric.WithDescription("Total number of saga runs that left residue needing manual cleanup"),
		metric.WithUnit("{run}"),
	)

	m.IdempotencyHitsTotal, _ = meter.Int64Counter(
		"deskflow.idempotency.hits.total",
		metric.WithDescription("Requests answered from a cached or in-flight outcome"),
		metric.WithUnit("{request}"),
	)

	m.IdempotencyMissesTotal, _ = meter.Int64Counter(
		"deskflow.idempotency.misses.total",
		metric.WithDescription("Requests that executed their operation"),
		metric.WithUnit("{request}"),
	)

	m.IdempotencyEntries, _ = meter.Int64UpDownCounter(
		"deskflow.idempotency.entries",
		metric.WithDescription("Outcomes currently retained by the idempotency guard"),
		metric.WithUnit("{entry}"),
	)

	m.GatewayCallDuration, _ = meter.Float64Histogram(
		"deskflow.gateway.call.duration",
		metric.WithDescription("Duration of resource gateway calls"),
		metric.WithUnit("ms"),
	)

	m.GatewayErrorsTotal, _ = meter.Int64Counter(
		"deskflow.gateway.errors.total",
		metric.WithDescription("Resource gateway calls that returned an error"),
		metric.WithUnit("{call}"),
	)

	return m
}
