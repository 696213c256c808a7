package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/locator"
	"github.com/oriys/fetchengine/internal/workqueue"
)

type fakeLoader struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLoader) Load(_ context.Context, _ fetchmodel.FetchRunContextProvider, _ fetchmodel.RequestMeta, ref fetchmodel.BundleRef) ([]fetchmodel.BundleRef, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	ref.ResourcesCount = 1
	ref.StorageKey = "key-" + string(ref.BID)
	return []fetchmodel.BundleRef{ref}, nil
}

func TestSchedulerRunDrainsAllURLsAndTerminates(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()

	urls := []string{"http://a", "http://b", "http://c"}
	loc := locator.NewSingleURLLocator("urls", urls, store)
	loader := &fakeLoader{}

	recipe := fetchmodel.FetcherRecipe{
		RecipeID: "r1",
		Locators: []fetchmodel.NamedLocator{{ID: "urls", Locator: loc}},
		Loader:   loader,
	}
	plan := fetchmodel.FetchPlan{
		Recipe:      recipe,
		Context:     fetchmodel.NewFetchRunContext("run1", nil),
		Concurrency: 2,
	}

	sched := New(store, workqueue.NewChannelNotifier())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := sched.Run(ctx, plan)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ProcessedCount != len(urls) {
		t.Fatalf("ProcessedCount = %d, want %d", result.ProcessedCount, len(urls))
	}
	if len(result.Errors) != 0 {
		t.Fatalf("got errors: %v", result.Errors)
	}

	loader.mu.Lock()
	defer loader.mu.Unlock()
	if loader.calls != len(urls) {
		t.Fatalf("loader called %d times, want %d", loader.calls, len(urls))
	}
}

func TestSchedulerRunFailsFastWithoutStore(t *testing.T) {
	sched := New(nil, nil)
	_, err := sched.Run(context.Background(), fetchmodel.FetchPlan{
		Context: fetchmodel.NewFetchRunContext("run1", nil),
	})
	if err == nil {
		t.Fatal("expected an error when no KVS store is configured")
	}
}
