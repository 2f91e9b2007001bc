package telemetry_test

import (
	"context"
	"testing"

	"github.com/raphaelgruber/datahub-gate/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "", "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	shutdown, err := telemetry.Setup(context.Background(), "http://192.0.2.1:4318", "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestTracerStartsSpans(t *testing.T) {
	_, span := telemetry.Tracer().Start(context.Background(), "probe")
	defer span.End()
	if span == nil {
		t.Fatal("expected a span")
	}
}
