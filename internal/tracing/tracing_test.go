package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestInitDisabledUsesNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if Enabled() {
		t.Fatal("Enabled() = true, want false when Config.Enabled is false")
	}

	ctx, span := StartRun(context.Background(), "run1", "recipe1")
	defer span.End()
	if ctx == nil {
		t.Fatal("StartRun returned a nil context")
	}
	SetError(span, errors.New("boom"))
	SetOK(span)
}

func TestInitEnabledWithNoopExporter(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "noop", ServiceName: "fetchengine-test"}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer Shutdown(context.Background())

	if !Enabled() {
		t.Fatal("Enabled() = false, want true after Init with Config.Enabled true")
	}

	_, span := StartBundle(context.Background(), "run1", "bid1")
	span.End()

	_, pollSpan := StartLocatorPoll(context.Background(), "run1", "loc1")
	pollSpan.End()

	_, acquireSpan := StartPoolAcquire(context.Background(), "http")
	acquireSpan.End()
}
