package httpmw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var noop = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(noop).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	for h, want := range map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-origin",
	} {
		if got := rec.Header().Get(h); got != want {
			t.Errorf("%s = %q, want %q", h, got, want)
		}
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("CSP = %q", csp)
	}
	if !strings.HasPrefix(rec.Header().Get("Strict-Transport-Security"), "max-age=") {
		t.Error("HSTS missing")
	}
}

func sampledContext() context.Context {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}))
}

func TestTraceResponseHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext())
	TraceResponseHeaders("", "")(noop).ServeHTTP(rec, req)
	if rec.Header().Get("X-Trace-Id") != "4bf92f3577b34da6a3ce929d0e0e4736" || rec.Header().Get("X-Span-Id") != "00f067aa0ba902b7" {
		t.Fatalf("headers = %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	TraceResponseHeaders("X-T", "X-S")(noop).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Header().Get("X-T") != "" || rec.Header().Get("X-Trace-Id") != "" {
		t.Fatal("headers set without a span")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345678")))
	if readErr != nil {
		t.Fatalf("body at the limit: %v", readErr)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456789")))
	var tooBig *http.MaxBytesError
	if !errors.As(readErr, &tooBig) || tooBig.Limit != 8 {
		t.Fatalf("over the limit: %v", readErr)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if readErr != nil {
		t.Fatalf("empty body: %v", readErr)
	}
}

func TestAnnotateHTTPRoute(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Get("/api/v1/ratelimit/clients/{clientID}", func(http.ResponseWriter, *http.Request) {})

	ctx, span := tp.Tracer("test").Start(context.Background(), "GET")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/clients/1.2.3.4", http.NoBody).WithContext(ctx)
	AnnotateHTTPRoute(r).ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d", len(ended))
	}
	if got := ended[0].Name(); got != "GET /api/v1/ratelimit/clients/{clientID}" {
		t.Fatalf("span name = %q", got)
	}
}

func TestRoutePattern_Unmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nope", http.NoBody)
	if got := RoutePattern(req); got != "/nope" {
		t.Fatalf("RoutePattern = %q", got)
	}
}
