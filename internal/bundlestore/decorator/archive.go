package decorator

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/fetchmodel"
)

// Format selects the archive container ArchiveDecorator produces.
type Format string

const (
	FormatTar Format = "tar"
	FormatZip Format = "zip"
)

type bufferedResource struct {
	name string
	data []byte
}

// ArchiveDecorator buffers every resource written to a bundle and, at
// Complete, bundles them into a single tar or zip archive handed to the
// wrapped sink as one resource named "bundle.<format>". Individual
// resources never reach Base directly.
type ArchiveDecorator struct {
	Base       bundlestore.Sink
	Format     Format
	ArchiveName string // defaults to "bundle.tar" / "bundle.zip"

	mu      sync.Mutex
	bundles map[string][]bufferedResource
}

// NewArchive builds a decorator that archives resources in format (FormatTar
// or FormatZip, defaulting to FormatTar) before handing them to base.
func NewArchive(base bundlestore.Sink, format Format) *ArchiveDecorator {
	if format == "" {
		format = FormatTar
	}
	return &ArchiveDecorator{Base: base, Format: format, bundles: make(map[string][]bufferedResource)}
}

func (d *ArchiveDecorator) StartBundle(ctx context.Context, h bundlestore.BundleHandle) error {
	d.mu.Lock()
	d.bundles[string(h.BID)] = nil
	d.mu.Unlock()
	return d.Base.StartBundle(ctx, h)
}

// WriteResource buffers the resource in memory; it is not forwarded to Base
// until Complete assembles the archive, so no content hash is available yet
// and the empty string is returned.
func (d *ArchiveDecorator) WriteResource(_ context.Context, h bundlestore.BundleHandle, name string, _ fetchmodel.ResourceMeta, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.bundles[string(h.BID)] = append(d.bundles[string(h.BID)], bufferedResource{name: name, data: raw})
	d.mu.Unlock()
	return "", nil
}

func (d *ArchiveDecorator) archiveName() string {
	if d.ArchiveName != "" {
		return d.ArchiveName
	}
	if d.Format == FormatZip {
		return "bundle.zip"
	}
	return "bundle.tar"
}

// Complete assembles the buffered resources into one archive, writes it to
// Base as a single resource, and delegates finalization to Base.
func (d *ArchiveDecorator) Complete(ctx context.Context, h bundlestore.BundleHandle, meta map[string]any) (string, error) {
	d.mu.Lock()
	resources := d.bundles[string(h.BID)]
	delete(d.bundles, string(h.BID))
	d.mu.Unlock()

	archive, err := d.build(resources)
	if err != nil {
		return "", fmt.Errorf("decorator: assembling %s archive: %w", d.Format, err)
	}

	if _, err := d.Base.WriteResource(ctx, h, d.archiveName(), fetchmodel.ResourceMeta{ContentType: d.contentType()}, bytes.NewReader(archive)); err != nil {
		return "", err
	}
	return d.Base.Complete(ctx, h, meta)
}

func (d *ArchiveDecorator) contentType() string {
	if d.Format == FormatZip {
		return "application/zip"
	}
	return "application/x-tar"
}

func (d *ArchiveDecorator) build(resources []bufferedResource) ([]byte, error) {
	var buf bytes.Buffer
	switch d.Format {
	case FormatZip:
		zw := zip.NewWriter(&buf)
		for _, r := range resources {
			fw, err := zw.Create(r.name)
			if err != nil {
				return nil, err
			}
			if _, err := fw.Write(r.data); err != nil {
				return nil, err
			}
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		tw := tar.NewWriter(&buf)
		for _, r := range resources {
			hdr := &tar.Header{Name: r.name, Size: int64(len(r.data)), Mode: 0o644}
			if err := tw.WriteHeader(hdr); err != nil {
				return nil, err
			}
			if _, err := tw.Write(r.data); err != nil {
				return nil, err
			}
		}
		if err := tw.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
