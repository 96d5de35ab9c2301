package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Disabled path

func TestInit_Disabled_ShutdownIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown %d: %v", i, err)
		}
	}
}

func TestInit_Disabled_SetsTracerProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(context.Background(), "deploy")
	span.SetName("renamed")
	span.End()
}

func TestInit_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fieldSet := make(map[string]bool)
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fieldSet[f] = true
	}
	if !fieldSet["traceparent"] {
		t.Error("propagator missing traceparent field")
	}
	if !fieldSet["baggage"] {
		t.Error("propagator missing baggage field")
	}
}

// Enabled path

func TestInit_Enabled_RequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// gRPC defers connection establishment, so an unreachable collector must
	// not hold up the run.
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:  true,
		Endpoint: "localhost:1",
		Insecure: true,
		Sample:   1.0,
		Service:  "static-deployer",
		Version:  "v0.0.0-test",
		RunID:    "run-1",
	})
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}

	_, span := otel.Tracer("test").Start(context.Background(), "deploy")
	span.End()

	// flush is bounded even with no collector listening
	start = time.Now()
	if err := shutdown(context.Background()); err != nil {
		t.Logf("shutdown error (expected with no collector): %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*flushTimeout {
		t.Fatalf("shutdown took %v", elapsed)
	}
}
