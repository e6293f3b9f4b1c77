package observability

import (
	"go.opentelemetry.io/otel/metric/noop"
)

// NewNoopMetrics creates metrics that do nothing. Used wherever no meter
// provider is configured, including tests.
func NewNoopMetrics() *Metrics {
	return NewMetrics(noop.NewMeterProvider())
}
