package observability

import (
	"context"
	"testing"
	"time"
)

func TestInitTracer(t *testing.T) {
	// gRPC dialing is lazy, so an unreachable collector does not fail
	// initialization.
	shutdown, err := InitTracer(context.Background(), "compliancepulse-worker", "localhost:4317")
	if err != nil {
		t.Logf("InitTracer returned error (may be expected in this environment): %v", err)
		return
	}

	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInitTracer_UnreachableEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "compliancepulse-worker", "unreachable:9999")
	if err != nil {
		t.Logf("InitTracer failed immediately: %v", err)
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}
