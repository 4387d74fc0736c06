package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/devicegate/devicegate/internal/api/middleware"
)

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := middleware.RequestID(middleware.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/verify-device", http.NoBody)
	req.Header.Set("User-Agent", "UA-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.Bytes()
	require.True(t, gjson.ValidBytes(line), "log line: %s", line)
	assert.Equal(t, "info", gjson.GetBytes(line, "level").String())
	assert.Equal(t, "POST", gjson.GetBytes(line, "method").String())
	assert.Equal(t, "/verify-device", gjson.GetBytes(line, "path").String())
	assert.Equal(t, int64(http.StatusCreated), gjson.GetBytes(line, "status").Int())
	assert.Equal(t, int64(5), gjson.GetBytes(line, "bytes").Int())
	assert.Equal(t, "UA-1", gjson.GetBytes(line, "user_agent").String())
	assert.NotEmpty(t, gjson.GetBytes(line, "request_id").String())
}

func TestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := middleware.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, "error", gjson.GetBytes(buf.Bytes(), "level").String())
}
