package device

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/devicegate/devicegate/internal/device"

// Metrics counts verification outcomes. A nil *Metrics records nothing.
type Metrics struct {
	verifications   metric.Int64Counter
	persistFailures metric.Int64Counter
}

// NewMetrics creates the verification counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	verifications, err := meter.Int64Counter(
		"device.verification.total",
		metric.WithDescription("Device verification outcomes by check and status"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, err
	}

	persistFailures, err := meter.Int64Counter(
		"device.verification.persist_failures",
		metric.WithDescription("Table writes that failed during verification"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		verifications:   verifications,
		persistFailures: persistFailures,
	}, nil
}

func (m *Metrics) record(ctx context.Context, res Result) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("check", string(res.Check)),
		attribute.String("status", string(res.Status)),
	)
	m.verifications.Add(ctx, 1, attrs)
	if res.PersistFailed {
		m.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("check", string(res.Check))))
	}
}
