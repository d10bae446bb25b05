package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func TestMiddleware_LabelsAndCounts(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/settings/{category}/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hello"))
	})
	r.Delete("/api/v1/ratelimit/clients/{clientID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/settings/a/b", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/ratelimit/clients/1.2.3.4", nil))

	if got := value(t, m.reqTotal.WithLabelValues("GET", "/api/v1/settings/{category}/{key}", "200")); got != 2 {
		t.Fatalf("GET count = %v, want 2", got)
	}
	if got := value(t, m.reqTotal.WithLabelValues("DELETE", "/api/v1/ratelimit/clients/{clientID}", "503")); got != 1 {
		t.Fatalf("DELETE count = %v, want 1", got)
	}
	if got := value(t, m.errorsTotal.WithLabelValues("DELETE", "/api/v1/ratelimit/clients/{clientID}")); got != 1 {
		t.Fatalf("5xx count = %v, want 1", got)
	}
	if got := series(m.errorsTotal); got != 1 {
		t.Fatalf("error series = %d, 2xx must not count", got)
	}

	h := family(t, m.reg, "http_response_size_bytes")
	for _, metric := range h.GetMetric() {
		if labelsOf(metric)["method"] == "GET" && metric.GetHistogram().GetSampleSum() != 10 {
			t.Fatalf("GET response bytes = %v, want 10", metric.GetHistogram().GetSampleSum())
		}
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/1234", nil))

	if got := value(t, m.reqTotal.WithLabelValues("GET", "unmatched", "200")); got != 1 {
		t.Fatalf("unmatched count = %v; raw paths must not become labels", got)
	}
	if value(t, m.inflight) != 0 {
		t.Fatal("inflight gauge not decremented")
	}
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	sw.WriteHeader(http.StatusTeapot)
	sw.WriteHeader(http.StatusOK)
	sw.Write([]byte("abc"))
	if sw.status != http.StatusTeapot || sw.n != 3 {
		t.Fatalf("status=%d n=%d", sw.status, sw.n)
	}
	if sw.Unwrap() != rec {
		t.Fatal("Unwrap should return the underlying writer")
	}
}

func TestTraceExemplar(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))
	if got := traceExemplar(sampled); got["trace_id"] != tid.String() {
		t.Fatalf("exemplar = %v", got)
	}

	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid,
	}))
	if traceExemplar(unsampled) != nil {
		t.Fatal("unsampled trace should not produce an exemplar")
	}
	if traceExemplar(context.Background()) != nil {
		t.Fatal("no span context should not produce an exemplar")
	}
}
