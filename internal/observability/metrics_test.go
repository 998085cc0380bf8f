package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitMetrics(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotZero(t, rr.Body.Len())
}

func TestCounter_AppearsInOutput(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	c := Counter(otel.Meter("test"), "videogen_test_counter", "test counter")
	c.Add(context.Background(), 42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "videogen_test_counter")
	assert.Contains(t, rr.Body.String(), "42")
}

func TestCounter_InvalidNameFallsBackToNoop(t *testing.T) {
	c := Counter(otel.Meter("test"), "", "")
	require.NotNil(t, c)
	assert.NotPanics(t, func() { c.Add(context.Background(), 1) })
}

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "videogen-test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
