// Package filesink implements bundlestore.Sink against the local
// filesystem: one directory per bundle, each resource written alongside a
// ".meta" sidecar, and a bundle-level "bundle.meta" written at completion.
package filesink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/pkg/fsutil"
)

// Sink writes bundles under Root, one directory per bundle named
// "bundle_<BID>".
type Sink struct {
	Root string
}

// New builds a filesystem sink rooted at root.
func New(root string) *Sink {
	return &Sink{Root: root}
}

func (s *Sink) bundleDir(h bundlestore.BundleHandle) string {
	return filepath.Join(s.Root, fmt.Sprintf("bundle_%s", h.BID))
}

// StartBundle creates the bundle's directory.
func (s *Sink) StartBundle(_ context.Context, h bundlestore.BundleHandle) error {
	return os.MkdirAll(s.bundleDir(h), 0o755)
}

// WriteResource streams the resource's content to disk through a sha256
// hasher — data is never buffered in memory — then writes a "<name>.meta"
// sidecar recording meta with Note set to the computed hash. The hash is
// verified against an independent re-read of the file before the sidecar is
// written, catching a truncated or corrupted write.
func (s *Sink) WriteResource(_ context.Context, h bundlestore.BundleHandle, name string, meta fetchmodel.ResourceMeta, data io.Reader) (string, error) {
	dir := s.bundleDir(h)
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	hasher := sha256.New()
	_, copyErr := io.Copy(f, io.TeeReader(data, hasher))
	closeErr := f.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	meta.Note = "sha256:" + hash

	if err := verifyWrittenHash(path, meta.Note); err != nil {
		return "", err
	}

	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path+".meta", sidecar, 0o644); err != nil {
		return "", err
	}
	return hash, nil
}

// verifyWrittenHash re-reads the file just written and compares its hash
// against the content hash recorded in note ("sha256:<hex>"), catching a
// truncated or corrupted write before the sidecar claims success. note
// being unset (no hash recorded) skips the check.
func verifyWrittenHash(path, note string) error {
	hash, ok := strings.CutPrefix(note, "sha256:")
	if !ok {
		return nil
	}
	got, err := fsutil.HashFile(path)
	if err != nil {
		return fmt.Errorf("filesink: verify %s: %w", path, err)
	}
	if !strings.HasPrefix(hash, got) {
		return fmt.Errorf("filesink: %s: on-disk hash %s does not match recorded hash %s", path, got, hash)
	}
	return nil
}

type bundleMeta struct {
	BID            string `json:"bid"`
	PrimaryURL     string `json:"primaryUrl"`
	ResourcesCount int    `json:"resourcesCount"`
}

// Complete writes "bundle.meta" recording the bundle's summary. The
// returned storage key is the bundle directory's path.
func (s *Sink) Complete(_ context.Context, h bundlestore.BundleHandle, _ map[string]any) (string, error) {
	dir := s.bundleDir(h)
	raw, err := json.MarshalIndent(bundleMeta{
		BID:            string(h.BID),
		PrimaryURL:     h.PrimaryURL,
		ResourcesCount: h.ResourcesCount,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "bundle.meta"), raw, 0o644); err != nil {
		return "", err
	}
	return dir, nil
}
