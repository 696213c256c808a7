package filesink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/fetchmodel"
)

func TestWriteResourceWritesContentAndMetaSidecar(t *testing.T) {
	sink := New(t.TempDir())
	h := bundlestore.BundleHandle{BID: bid.New(), PrimaryURL: "https://example.com/a"}
	if err := sink.StartBundle(context.Background(), h); err != nil {
		t.Fatalf("StartBundle: %v", err)
	}

	content := []byte("hello world")
	sum := sha256.Sum256(content)
	wantHash := hex.EncodeToString(sum[:])
	meta := fetchmodel.ResourceMeta{URL: "https://example.com/a"}

	hash, err := sink.WriteResource(context.Background(), h, "a.txt", meta, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("WriteResource: %v", err)
	}
	if hash != wantHash {
		t.Fatalf("hash = %s, want %s", hash, wantHash)
	}

	dir := sink.bundleDir(h)
	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected content: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt.meta")); err != nil {
		t.Fatalf("expected meta sidecar: %v", err)
	}
}

func TestVerifyWrittenHashRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	wrongNote := "sha256:" + hex.EncodeToString(make([]byte, 32))
	if err := verifyWrittenHash(path, wrongNote); err == nil {
		t.Fatal("expected an error for a hash that does not match the written content")
	}
}

func TestCompleteWritesBundleMeta(t *testing.T) {
	sink := New(t.TempDir())
	h := bundlestore.BundleHandle{BID: bid.New(), PrimaryURL: "https://example.com/a", ResourcesCount: 2}
	if err := sink.StartBundle(context.Background(), h); err != nil {
		t.Fatalf("StartBundle: %v", err)
	}
	key, err := sink.Complete(context.Background(), h, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if key != sink.bundleDir(h) {
		t.Fatalf("unexpected storage key: %s", key)
	}
	if _, err := os.Stat(filepath.Join(key, "bundle.meta")); err != nil {
		t.Fatalf("expected bundle.meta: %v", err)
	}
}
