package otel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestMiddlewareWithStatus_RecordsRouteAndStatus(t *testing.T) {
	sr := recordSpans(t)

	r := chi.NewRouter()
	r.Use(MiddlewareWithStatus())
	r.Get("/v1/evidence/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evidence/doc_1234", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http.request", spans[0].Name())
	assert.Equal(t, "/v1/evidence/{id}", spanAttr(spans[0], "http.route").AsString())
	assert.Equal(t, "/v1/evidence/doc_1234", spanAttr(spans[0], "url.path").AsString())
	assert.Equal(t, int64(http.StatusOK), spanAttr(spans[0], "http.response.status_code").AsInt64())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestMiddlewareWithStatus_ServerErrorMarksSpan(t *testing.T) {
	sr := recordSpans(t)

	h := MiddlewareWithStatus()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/redact", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "/v1/redact", spanAttr(spans[0], "http.route").AsString())
}

func TestMiddlewareWithStatus_ClientErrorIsNotFailure(t *testing.T) {
	sr := recordSpans(t)

	h := MiddlewareWithStatus()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/scan", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}
