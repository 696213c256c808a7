package locator

import (
	"context"
	"sync"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
)

// SingleURLLocator emits one BundleRef per URL in a fixed list, in order.
// Like the SFTP locators, checkpointing is two-phase: an "inflight:<url>"
// guard is written at emission time and the "processed:<url>" checkpoint is
// deferred to OnBundleCompleteHook. The inflight guard persists in the KVS,
// so a URL that was emitted but whose bundle never completed is not
// re-emitted, even after a restart.
type SingleURLLocator struct {
	ID   string
	URLs []string

	cursors cursorStore
	mu      sync.Mutex
}

// NewSingleURLLocator builds a locator over a fixed URL list, persisting its
// checkpoints under id in store.
func NewSingleURLLocator(id string, urls []string, store kvs.Store) *SingleURLLocator {
	return &SingleURLLocator{
		ID:      id,
		URLs:    urls,
		cursors: cursorStore{store: store, id: id},
	}
}

func (l *SingleURLLocator) GetNextBundleRefs(_ fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := context.Background()

	refs := make([]fetchmodel.BundleRef, 0, len(l.URLs))
	for _, url := range l.URLs {
		if needed > 0 && len(refs) >= needed {
			break
		}

		_, processed, err := l.cursors.processedValue(ctx, url)
		if err != nil {
			return nil, err
		}
		if processed {
			continue
		}
		_, inflight, err := l.cursors.processedValue(ctx, "inflight:"+url)
		if err != nil {
			return nil, err
		}
		if inflight {
			continue
		}

		if err := l.cursors.markProcessed(ctx, "inflight:"+url, "1"); err != nil {
			return nil, err
		}
		refs = append(refs, fetchmodel.BundleRef{
			BID:        bid.New(),
			PrimaryURL: url,
			Meta:       map[string]any{"url": url},
		})
	}
	return refs, nil
}

// HandleRequestProcessed records a processing failure for visibility. The
// cursor (completed set) only ever advances via OnBundleCompleteHook, so a
// failed item is not marked processed; its inflight guard stays in place,
// so it is not re-emitted on later polls. The scheduler's retry engine
// covers transient failures inside the loader itself.
func (l *SingleURLLocator) HandleRequestProcessed(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, _ fetchmodel.RequestMeta, ok bool) {
	if ok {
		return
	}
	_ = l.cursors.markError(context.Background(), string(ref.BID), errRequestFailed)
}

// OnBundleCompleteHook is the deferred checkpoint: it records the URL as
// processed and clears its inflight guard, only once the bundle has
// actually completed.
func (l *SingleURLLocator) OnBundleCompleteHook(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	url, _ := ref.Meta["url"].(string)
	if url == "" {
		return
	}
	ctx := context.Background()
	_ = l.cursors.markProcessed(ctx, url, "1")
	_ = l.cursors.store.Delete(ctx, l.cursors.key("processed", "inflight:"+url))
}
