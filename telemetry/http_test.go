package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracing installs a synchronous in-memory tracer provider globally.
func useTestTracing(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp
}

func TestTracingMiddleware(t *testing.T) {
	exporter, _ := useTestTracing(t)

	handler := TracingMiddlewareWithConfig("apiflow", &TracingMiddlewareConfig{
		ExcludedPaths: []string{"/health"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-request", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /process-request", spans[0].Name)
}

func TestTracingMiddleware_CustomSpanName(t *testing.T) {
	exporter, _ := useTestTracing(t)

	handler := TracingMiddlewareWithConfig("apiflow", &TracingMiddlewareConfig{
		SpanNameFormatter: func(_ string, r *http.Request) string { return "custom " + r.Method },
	})(http.NotFoundHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Len(t, exporter.GetSpans(), 1)
	assert.Equal(t, "custom GET", exporter.GetSpans()[0].Name)
}

func TestNewTracedHTTPClient_PropagatesContext(t *testing.T) {
	exporter, tp := useTestTracing(t)

	var traceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	ctx, span := tp.Tracer("test").Start(context.Background(), "apiflow.step")
	client := NewTracedHTTPClient(nil, 0)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL+"/api/companies", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	span.End()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotEmpty(t, traceparent)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "HTTP GET /api/companies")
}
