// Package decorator wraps a bundlestore.Sink to add transparent resource
// compression and whole-bundle archiving without changing the
// BundleStorageContext contract callers see.
package decorator

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/fetchmodel"
)

var gzipMagic = []byte{0x1f, 0x8b}

// GzipDecorator transparently gzip-decompresses a resource's bytes before
// handing them to the wrapped sink when the name ends in ".gz" or the
// content begins with the gzip magic bytes. If decompression fails, the
// original bytes are passed through unchanged.
type GzipDecorator struct {
	Base bundlestore.Sink
}

func NewGzip(base bundlestore.Sink) *GzipDecorator {
	return &GzipDecorator{Base: base}
}

func (d *GzipDecorator) StartBundle(ctx context.Context, h bundlestore.BundleHandle) error {
	return d.Base.StartBundle(ctx, h)
}

// WriteResource must inspect the whole resource to decide whether it is
// gzipped before forwarding it, so unlike the sinks it wraps it cannot avoid
// buffering here; the content hash returned is always Base's, computed on
// whatever bytes Base actually persisted (decompressed or not).
func (d *GzipDecorator) WriteResource(ctx context.Context, h bundlestore.BundleHandle, name string, meta fetchmodel.ResourceMeta, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}

	looksGzipped := strings.HasSuffix(name, ".gz") || (len(raw) >= 2 && raw[0] == gzipMagic[0] && raw[1] == gzipMagic[1])
	if !looksGzipped {
		return d.Base.WriteResource(ctx, h, name, meta, bytes.NewReader(raw))
	}

	decompressed, err := gunzip(raw)
	if err != nil {
		// Fall back to the original bytes under the original name.
		return d.Base.WriteResource(ctx, h, name, meta, bytes.NewReader(raw))
	}
	name = strings.TrimSuffix(name, ".gz")
	return d.Base.WriteResource(ctx, h, name, meta, bytes.NewReader(decompressed))
}

func (d *GzipDecorator) Complete(ctx context.Context, h bundlestore.BundleHandle, meta map[string]any) (string, error) {
	return d.Base.Complete(ctx, h, meta)
}

func gunzip(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
