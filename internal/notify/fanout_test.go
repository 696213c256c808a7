package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/fetchengine/internal/notify"
	notifymemory "github.com/oriys/fetchengine/internal/notify/memory"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, notify.BundleCompletion) error { return f.err }
func (f failingPublisher) Close() error                                          { return nil }

func TestFanoutDeliversToEveryPublisher(t *testing.T) {
	a, b := notifymemory.New(), notifymemory.New()
	fan := notify.Fanout(a, b)

	msg := notify.NewBundleCompletion("bid1", "recipe1", "https://example.com", 1, "", nil)
	if err := fan.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(a.Messages) != 1 || len(b.Messages) != 1 {
		t.Fatalf("expected both publishers to receive the message, got a=%d b=%d", len(a.Messages), len(b.Messages))
	}
}

func TestFanoutCollectsErrorsButStillDeliversToOthers(t *testing.T) {
	ok := notifymemory.New()
	boom := failingPublisher{err: errors.New("boom")}
	fan := notify.Fanout(boom, ok)

	msg := notify.NewBundleCompletion("bid1", "recipe1", "https://example.com", 1, "", nil)
	err := fan.Publish(context.Background(), msg)
	if err == nil {
		t.Fatal("expected an error from the failing publisher")
	}
	if len(ok.Messages) != 1 {
		t.Fatalf("expected the healthy publisher to still receive the message, got %d", len(ok.Messages))
	}
}

func TestFanoutSinglePublisherReturnsItUnwrapped(t *testing.T) {
	a := notifymemory.New()
	if notify.Fanout(a) != notify.Publisher(a) {
		t.Fatal("expected Fanout of one publisher to return it unwrapped")
	}
}
