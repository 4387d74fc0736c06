package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/devicegate/devicegate/internal/api/middleware"
)

func setupTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	return reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMetrics_CountsRequests(t *testing.T) {
	reader := setupTestMeter(t)

	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/device-list", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, int64(3), sumOf(t, reader, "http.server.request.total"))
	assert.Equal(t, int64(0), sumOf(t, reader, "http.server.requests_in_flight"))
}

func TestProviderMetrics_RecordsStoreCalls(t *testing.T) {
	reader := setupTestMeter(t)

	pm, err := middleware.NewProviderMetrics()
	require.NoError(t, err)

	pm.RecordRequest("jsonbin", "read", 10*time.Millisecond, nil)
	pm.RecordRequest("jsonbin", "write", 20*time.Millisecond, errors.New("down"))
	pm.RecordCacheHit("jsonbin", "fetch")
	pm.RecordCacheHit("jsonbin", "fetch")
	pm.RecordCacheMiss("jsonbin", "fetch")

	assert.Equal(t, int64(2), sumOf(t, reader, "provider.request.total"))
	assert.Equal(t, int64(2), sumOf(t, reader, "provider.cache.hit"))
	assert.Equal(t, int64(1), sumOf(t, reader, "provider.cache.miss"))
}
