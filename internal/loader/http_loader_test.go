package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/bundlestore/filesink"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/notify/memory"
	"github.com/oriys/fetchengine/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, ExponentialBase: 2}
}

type fakeRunCtx struct{ id string }

func (f fakeRunCtx) RunID() string                     { return f.id }
func (f fakeRunCtx) SharedMap() *fetchmodel.SharedMap { return nil }

func TestHTTPLoaderStoresPrimaryResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	storage := bundlestore.New(filesink.New(dir), memory.New())
	loader := &HTTPLoader{
		Pool:    httppool.New(httppool.Config{PoolMaxSize: 2}, fastPolicy(), nil),
		Storage: storage,
		Recipe:  fetchmodel.FetcherRecipe{RecipeID: "r1"},
	}

	ref := fetchmodel.BundleRef{BID: bid.New(), PrimaryURL: srv.URL}
	refs, err := loader.Load(context.Background(), fakeRunCtx{"run1"}, fetchmodel.RequestMeta{URL: srv.URL}, ref)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	if refs[0].ResourcesCount != 1 {
		t.Fatalf("ResourcesCount = %d, want 1", refs[0].ResourcesCount)
	}
	if refs[0].StorageKey == "" {
		t.Fatal("expected a non-empty storage key")
	}
}

func TestHTTPLoaderDiscardsOnDefaultErrorHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	storage := bundlestore.New(filesink.New(dir), memory.New())
	loader := &HTTPLoader{
		Pool:    httppool.New(httppool.Config{PoolMaxSize: 1}, fastPolicy(), nil),
		Storage: storage,
		Recipe:  fetchmodel.FetcherRecipe{RecipeID: "r1"},
	}

	ref := fetchmodel.BundleRef{BID: bid.New(), PrimaryURL: srv.URL}
	refs, err := loader.Load(context.Background(), fakeRunCtx{"run1"}, fetchmodel.RequestMeta{}, ref)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("got %d refs, want 0 for a discarded 404", len(refs))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no bundle directory to be created, found %d entries", len(entries))
	}
}

func TestHTTPLoaderFetchesRelatedResources(t *testing.T) {
	var relatedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/style.css" {
			w.Write([]byte("body{}"))
			return
		}
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()
	relatedPath = srv.URL + "/style.css"

	dir := t.TempDir()
	storage := bundlestore.New(filesink.New(dir), memory.New())
	loader := &HTTPLoader{
		Pool:    httppool.New(httppool.Config{PoolMaxSize: 1}, fastPolicy(), nil),
		Storage: storage,
		Recipe:  fetchmodel.FetcherRecipe{RecipeID: "r1"},
		DiscoverRelated: func(body []byte, baseURL string) []RelatedResource {
			return []RelatedResource{{Name: "style.css", URL: relatedPath}}
		},
	}

	ref := fetchmodel.BundleRef{BID: bid.New(), PrimaryURL: srv.URL}
	refs, err := loader.Load(context.Background(), fakeRunCtx{"run1"}, fetchmodel.RequestMeta{}, ref)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(refs) != 1 || refs[0].ResourcesCount != 2 {
		t.Fatalf("got refs=%v, want a single bundle with 2 resources", refs)
	}

	bundleDir := filepath.Join(dir, "bundle_"+string(ref.BID))
	if _, err := os.Stat(filepath.Join(bundleDir, "style.css")); err != nil {
		t.Fatalf("expected style.css to be written: %v", err)
	}
}
