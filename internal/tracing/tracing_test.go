package tracing

import (
	"context"
	"testing"
)

func TestInitTracer_EmptyEndpoint(t *testing.T) {
	tp, err := InitTracer(context.Background(), "")
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if tp != nil {
		t.Error("expected no provider for an empty endpoint")
	}
}

func TestInitTracer_Endpoint(t *testing.T) {
	tp, err := InitTracer(context.Background(), "http://localhost:4318/v1/traces")
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if tp == nil {
		t.Fatal("InitTracer() returned nil provider")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Logf("shutdown: %v", err)
	}
}
