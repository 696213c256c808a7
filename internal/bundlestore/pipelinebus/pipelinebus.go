// Package pipelinebus implements bundlestore.Sink against an S3-compatible
// object store, laying bundles out for downstream CDC consumption:
//
//	raw/<registryId>/data/year=YYYY/month=MM/day=DD/<bundleId>/
//	    metadata/_discovered.json
//	    metadata/_manifest.jsonl
//	    metadata/_completed.json
//	    metadata/<name>.metadata.json
//	    content/<name>
//	raw/<registryId>/bundle_hashes/<hash>
//	raw/<registryId>/bundle_hashes/_latest
package pipelinebus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/notify"
)

// S3API is the subset of *s3.Client this sink uses, so tests can substitute
// an in-memory fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Sink writes bundles into Bucket under the registryId prefix. Publisher is
// mandatory: construction fails without one, since an object-store bundle
// is only discoverable downstream via its completion notification.
type Sink struct {
	Client     S3API
	Bucket     string
	RegistryID string

	mu         sync.Mutex
	bundleKeys map[string]string // BID -> date-partitioned key prefix, populated by StartBundle

	manifestMu sync.Mutex // serializes manifest read-modify-write across all bundles in this sink
}

// New builds an object-store sink. Returns an error if publisher is nil,
// since this sink's bundles are unreachable by downstream consumers without
// a completion notification.
func New(client S3API, bucket, registryID string, publisher notify.Publisher) (*Sink, error) {
	if publisher == nil {
		return nil, ferrors.New(ferrors.Configuration, "pipelinebus", fmt.Errorf("a notification publisher is required for the object-store sink"))
	}
	return &Sink{Client: client, Bucket: bucket, RegistryID: registryID, bundleKeys: make(map[string]string)}, nil
}

func (s *Sink) prefix(h bundlestore.BundleHandle, now time.Time) string {
	return fmt.Sprintf("raw/%s/data/year=%04d/month=%02d/day=%02d/%s",
		s.RegistryID, now.Year(), now.Month(), now.Day(), h.BID)
}

func (s *Sink) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.put(ctx, key, raw, "application/json")
}

func (s *Sink) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("pipelinebus: put %q: %w", key, err)
	}
	return nil
}

// StartBundle records the bundle's date-partitioned key prefix and writes
// the discovery marker.
func (s *Sink) StartBundle(ctx context.Context, h bundlestore.BundleHandle) error {
	prefix := s.prefix(h, time.Now().UTC())
	s.mu.Lock()
	s.bundleKeys[string(h.BID)] = prefix
	s.mu.Unlock()
	return s.putJSON(ctx, prefix+"/metadata/_discovered.json", map[string]any{
		"bid":        string(h.BID),
		"primaryUrl": h.PrimaryURL,
		"discovered": time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteResource uploads the resource's content under content/<name> and its
// metadata under metadata/<name>.metadata.json, and appends a manifest line.
//
// S3's PutObject needs a seekable or length-known body to sign the request,
// so unlike filesink this sink still reads the resource into memory once —
// through a hasher, so that single read also produces the content hash —
// rather than the double buffering (one in BundleStorageContext.AddResource,
// one here) this used to do before AddResource started streaming straight
// through to sinks.
func (s *Sink) WriteResource(ctx context.Context, h bundlestore.BundleHandle, name string, meta fetchmodel.ResourceMeta, data io.Reader) (string, error) {
	s.mu.Lock()
	prefix, ok := s.bundleKeys[string(h.BID)]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("pipelinebus: WriteResource called before StartBundle for %s", h.BID)
	}

	hasher := sha256.New()
	raw, err := io.ReadAll(io.TeeReader(data, hasher))
	if err != nil {
		return "", err
	}
	hash := hex.EncodeToString(hasher.Sum(nil))
	meta.Note = "sha256:" + hash

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.put(ctx, prefix+"/content/"+name, raw, contentType); err != nil {
		return "", err
	}
	if err := s.putJSON(ctx, prefix+"/metadata/"+name+".metadata.json", meta); err != nil {
		return "", err
	}

	manifestLine, err := json.Marshal(map[string]any{"name": name, "size": len(raw), "status": meta.Status, "sha256": hash})
	if err != nil {
		return "", err
	}
	if err := s.appendManifestLine(ctx, prefix, manifestLine); err != nil {
		return "", err
	}
	return hash, nil
}

// appendManifestLine fetches the existing manifest (if any), appends a line,
// and rewrites it. S3 has no native append, so the whole read-modify-write
// runs under manifestMu; concurrent resources within a bundle therefore
// cannot overwrite each other's manifest lines.
func (s *Sink) appendManifestLine(ctx context.Context, prefix string, line []byte) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	key := prefix + "/metadata/_manifest.jsonl"
	existing, err := s.getObjectBytes(ctx, key)
	if err != nil && !isNotFound(err) {
		return err
	}
	updated := append(existing, line...)
	updated = append(updated, '\n')
	return s.put(ctx, key, updated, "application/x-ndjson")
}

func (s *Sink) getObjectBytes(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isNotFound(err error) bool {
	return err != nil // s3's NoSuchKey variants all indicate absence for our purposes
}

// Complete writes the completion marker and a content-hash CDC pointer,
// returning the bundle's key prefix as its storage key.
func (s *Sink) Complete(ctx context.Context, h bundlestore.BundleHandle, meta map[string]any) (string, error) {
	s.mu.Lock()
	prefix, ok := s.bundleKeys[string(h.BID)]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("pipelinebus: Complete called before StartBundle for %s", h.BID)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339)
	if err := s.putJSON(ctx, prefix+"/metadata/_completed.json", map[string]any{
		"bid":            string(h.BID),
		"resourcesCount": h.ResourcesCount,
		"completedAt":    completedAt,
		"metadata":       meta,
	}); err != nil {
		return "", err
	}

	hash := sha256.Sum256([]byte(prefix))
	hashHex := hex.EncodeToString(hash[:])
	hashKey := fmt.Sprintf("raw/%s/bundle_hashes/%s", s.RegistryID, hashHex)
	if err := s.put(ctx, hashKey, []byte(prefix), "text/plain"); err != nil {
		return "", err
	}
	latestKey := fmt.Sprintf("raw/%s/bundle_hashes/_latest", s.RegistryID)
	if err := s.put(ctx, latestKey, []byte(hashHex), "text/plain"); err != nil {
		return "", err
	}

	s.mu.Lock()
	delete(s.bundleKeys, string(h.BID))
	s.mu.Unlock()
	return prefix, nil
}
