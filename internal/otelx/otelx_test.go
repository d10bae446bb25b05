package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:4317", Sample: 5})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown %d: %v", i, err)
		}
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if span.IsRecording() {
		t.Fatal("span should not record without a sampler-backed exporter")
	}
}

func TestInit_Propagators(t *testing.T) {
	_, _ = Init(context.Background(), Options{})

	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	for _, want := range []string{"traceparent", "baggage"} {
		if !strings.Contains(fields, want) {
			t.Fatalf("propagator fields %q missing %s", fields, want)
		}
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// grpc connects lazily, so an unreachable collector must not block startup
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		Endpoint:    "localhost:1",
		Insecure:    true,
		Sample:      1.0,
		Service:     "test",
		Component:   "server",
		Version:     "v0.0.0-test",
		Environment: "test",
		Headers:     map[string]string{"x-scope-orgid": "t"},
		DialTimeout: time.Second,
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Logf("shutdown error (no collector): %v", err)
	}
	_, _ = Init(context.Background(), Options{})
}

func TestServiceName(t *testing.T) {
	if got := (Options{Service: "admin", Component: "server"}).serviceName(); got != "admin.server" {
		t.Fatalf("serviceName = %q", got)
	}
	if got := (Options{Service: "admin"}).serviceName(); got != "admin" {
		t.Fatalf("serviceName = %q", got)
	}
}
