package grpcpublisher

import (
	"testing"

	"github.com/oriys/fetchengine/internal/notify"
)

// Full client/server round-trips over a live gRPC connection are exercised
// against a real endpoint in integration testing; here we check only the
// codec's marshal/unmarshal contract, since that's the part this package
// owns (the transport itself is google.golang.org/grpc's).
func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	msg := notify.NewBundleCompletion("bid-1", "recipe-1", "http://x", 2, "key-1", map[string]any{"a": float64(1)})

	raw, err := c.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	var decoded notify.BundleCompletion
	if err := c.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if decoded.BundleID != msg.BundleID || decoded.ResourcesCount != msg.ResourcesCount {
		t.Fatalf("decoded = %+v, want %+v", decoded, msg)
	}
}

func TestJSONCodecName(t *testing.T) {
	if jsonCodec{}.Name() != codecName {
		t.Fatalf("Name() = %q, want %q", jsonCodec{}.Name(), codecName)
	}
}
