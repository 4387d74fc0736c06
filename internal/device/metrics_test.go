package device_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/devicegate/devicegate/internal/device"
)

func collectCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return sum.DataPoints
			}
		}
	}
	return nil
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := device.NewMetrics()
	require.NoError(t, err)

	store := newFakeStore()
	v := device.NewVerifier(device.VerifierConfig{
		Store:   store,
		Logger:  zerolog.Nop(),
		Metrics: metrics,
		NewID:   sequentialIDs(),
	})

	ctx := context.Background()
	v.Verify(ctx, signals("1.1.1.1", "UA", "", "t1"))
	v.Verify(ctx, signals("1.1.1.1", "UA", "", "t1"))
	store.writeErr = errors.New("down")
	v.Verify(ctx, signals("2.2.2.2", "UA", "", "t2"))

	points := collectCounter(t, reader, "device.verification.total")
	byOutcome := map[string]int64{}
	for _, dp := range points {
		check, _ := dp.Attributes.Value(attribute.Key("check"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byOutcome[check.AsString()+"/"+status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"new_device/verified": 1,
		"fingerprint/failed":  1,
		"new_device/error":    1,
	}, byOutcome)

	failures := collectCounter(t, reader, "device.verification.persist_failures")
	require.Len(t, failures, 1)
	assert.Equal(t, int64(1), failures[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	v := device.NewVerifier(device.VerifierConfig{
		Store:  newFakeStore(),
		Logger: zerolog.Nop(),
		NewID:  sequentialIDs(),
	})
	res := v.Verify(context.Background(), signals("1.1.1.1", "UA", "", "t1"))
	assert.Equal(t, device.StatusVerified, res.Status)
}
