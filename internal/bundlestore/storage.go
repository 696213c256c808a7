// Package bundlestore implements the bundle lifecycle: a Storage registers
// each BundleRef as it opens, hands callers a BundleStorageContext to stream
// resources through, and finalizes the bundle exactly once, fanning out
// completion hooks to the recipe's locators and loader and publishing a
// completion notification.
package bundlestore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/logging"
	"github.com/oriys/fetchengine/internal/metrics"
	"github.com/oriys/fetchengine/internal/notify"
)

// BundleHandle identifies the bundle a Sink operation applies to.
type BundleHandle struct {
	BID            bid.BID
	PrimaryURL     string
	ResourcesCount int
	Meta           map[string]any
}

// Sink is the storage backend a Storage delegates to: a local directory, an
// object store, or a decorator wrapping one of those.
type Sink interface {
	// StartBundle sets up any sink-specific bookkeeping (a directory, a
	// manifest skeleton) before resources are written.
	StartBundle(ctx context.Context, h BundleHandle) error

	// WriteResource persists one resource's content alongside its metadata
	// and returns the hex-encoded sha256 content hash it computed by teeing
	// data through a hasher as it wrote, rather than buffering the whole
	// resource first (a decorator that defers the write may return "").
	// Implementations read data to completion.
	WriteResource(ctx context.Context, h BundleHandle, name string, meta fetchmodel.ResourceMeta, data io.Reader) (contentHash string, err error)

	// Complete runs sink-specific finalization (a completion marker, a
	// manifest flush, a latest-hash pointer) and returns the storage key
	// the bundle is now addressable by, if the sink assigns one.
	Complete(ctx context.Context, h BundleHandle, meta map[string]any) (storageKey string, err error)
}

// completionHook is implemented optionally by a fetchmodel.Loader that
// wants to observe bundle completion (e.g. to checkpoint state shared with
// its locator).
type completionHook interface {
	OnBundleCompleteHook(ctx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef)
}

// Storage tracks one BundleStorageContext per open bundle and finalizes
// each exactly once.
type Storage struct {
	sink      Sink
	publisher notify.Publisher // may be nil; required by object-store sinks

	mu   sync.Mutex
	open map[bid.BID]*BundleStorageContext
}

// New builds a Storage over sink. publisher is optional; Sink implementations
// that require one (the object-store sink) must be constructed to fail
// without one rather than relying on Storage to enforce it.
func New(sink Sink, publisher notify.Publisher) *Storage {
	return &Storage{sink: sink, publisher: publisher, open: make(map[bid.BID]*BundleStorageContext)}
}

// StartBundle registers ref as open and returns the context resources are
// streamed through.
func (s *Storage) StartBundle(ctx context.Context, runCtx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, recipe fetchmodel.FetcherRecipe) (*BundleStorageContext, error) {
	handle := BundleHandle{BID: ref.BID, PrimaryURL: ref.PrimaryURL}
	if err := s.sink.StartBundle(ctx, handle); err != nil {
		return nil, ferrors.New(ferrors.Storage, "bundlestore", err)
	}
	metrics.Global().RecordBundleStarted()

	bsc := newContext(s.sink, s.publisher, runCtx, ref, recipe)
	s.mu.Lock()
	s.open[ref.BID] = bsc
	s.mu.Unlock()
	return bsc, nil
}

// BundleFound returns existing unchanged if it is non-empty (the locator
// already minted a BID), otherwise mints a fresh one. Sinks that derive a
// BID from content (e.g. a content hash) should wrap Storage and override
// this behavior.
func (s *Storage) BundleFound(existing bid.BID, _ map[string]any) (bid.BID, error) {
	if existing != "" {
		return existing, nil
	}
	return bid.New(), nil
}

// state is the BundleStorageContext lifecycle: Open -> Completing ->
// Completed (terminal), or Open -> Failed (terminal).
type state int32

const (
	stateOpen state = iota
	stateCompleting
	stateCompleted
	stateFailed
)

// BundleStorageContext is the per-bundle handle a Loader streams resources
// through and finalizes exactly once.
type BundleStorageContext struct {
	sink      Sink
	publisher notify.Publisher
	runCtx    fetchmodel.FetchRunContextProvider
	ref       fetchmodel.BundleRef
	recipe    fetchmodel.FetcherRecipe

	mu        sync.Mutex
	state     state
	pending   map[string]struct{}
	completed map[string]struct{}
	event     chan struct{} // closed exactly when pending is empty
	seq       uint64

	resourcesCount int32
	failCause      error
	startedAt      time.Time
}

func newContext(sink Sink, publisher notify.Publisher, runCtx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, recipe fetchmodel.FetcherRecipe) *BundleStorageContext {
	evt := make(chan struct{})
	close(evt) // zero pending uploads at construction: ready
	return &BundleStorageContext{
		sink:      sink,
		publisher: publisher,
		runCtx:    runCtx,
		ref:       ref,
		recipe:    recipe,
		pending:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		event:     evt,
		startedAt: time.Now(),
	}
}

func (c *BundleStorageContext) handle() BundleHandle {
	return BundleHandle{BID: c.ref.BID, PrimaryURL: c.ref.PrimaryURL, ResourcesCount: int(atomic.LoadInt32(&c.resourcesCount))}
}

// AddResource streams one resource's content straight through to the sink
// without buffering it in memory first; the sink tees it through its own
// hasher as it writes and reports the resulting content hash. Safe to call
// concurrently from multiple producers for the same bundle; ordering across
// resources is not guaranteed.
func (c *BundleStorageContext) AddResource(ctx context.Context, name string, meta fetchmodel.ResourceMeta, data io.Reader) error {
	uploadID := fmt.Sprintf("%s#%d", name, atomic.AddUint64(&c.seq, 1))

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.event = make(chan struct{})
	}
	c.pending[uploadID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, uploadID)
		c.completed[uploadID] = struct{}{}
		if len(c.pending) == 0 {
			close(c.event)
		}
		c.mu.Unlock()
	}()

	if _, err := c.sink.WriteResource(ctx, c.handle(), name, meta, data); err != nil {
		return ferrors.New(ferrors.Storage, "bundlestore", err).WithResource(name)
	}
	atomic.AddInt32(&c.resourcesCount, 1)
	return nil
}

// Complete waits until no uploads are pending, then finalizes the bundle.
// Idempotent: a second call after the first has finished returns nil
// immediately without re-running sink completion, hooks, or publication.
func (c *BundleStorageContext) Complete(ctx context.Context, meta map[string]any) error {
	c.mu.Lock()
	evt := c.event
	c.mu.Unlock()

	select {
	case <-evt:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	if c.state == stateCompleted {
		c.mu.Unlock()
		return nil
	}
	if c.state == stateFailed {
		c.mu.Unlock()
		return ferrors.New(ferrors.Storage, "bundlestore", fmt.Errorf("bundle %s already failed", c.ref.BID))
	}
	c.state = stateCompleting
	c.mu.Unlock()

	storageKey, err := c.sink.Complete(ctx, c.handle(), meta)
	if err != nil {
		c.mu.Lock()
		c.state = stateFailed
		c.failCause = err
		c.mu.Unlock()
		metrics.Global().RecordBundleCompletion(time.Since(c.startedAt).Milliseconds(), false)
		return ferrors.New(ferrors.Storage, "bundlestore", err)
	}
	c.ref.StorageKey = storageKey
	c.ref.ResourcesCount = int(atomic.LoadInt32(&c.resourcesCount))

	c.mu.Lock()
	c.state = stateCompleted
	c.mu.Unlock()
	metrics.Global().RecordBundleCompletion(time.Since(c.startedAt).Milliseconds(), true)

	c.runCompletionHooks()

	if c.publisher != nil {
		msg := notify.NewBundleCompletion(string(c.ref.BID), c.recipe.RecipeID, c.ref.PrimaryURL, c.ref.ResourcesCount, c.ref.StorageKey, meta)
		if err := c.publisher.Publish(ctx, msg); err != nil {
			return ferrors.New(ferrors.Network, "bundlestore", err)
		}
	}
	return nil
}

// runCompletionHooks notifies every locator in the recipe plus the loader
// (if it implements completionHook). Hook failures are logged and do not
// fail completion.
func (c *BundleStorageContext) runCompletionHooks() {
	log := logging.ForBundle(c.runCtx.RunID(), string(c.ref.BID))
	for _, nl := range c.recipe.Locators {
		func(id string) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("locator completion hook panicked", "locator_id", id, "panic", r)
				}
			}()
			nl.Locator.OnBundleCompleteHook(c.runCtx, c.ref)
		}(nl.ID)
	}
	if hook, ok := c.recipe.Loader.(completionHook); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("loader completion hook panicked", "panic", r)
				}
			}()
			hook.OnBundleCompleteHook(c.runCtx, c.ref)
		}()
	}
}

// Fail marks the bundle Failed (terminal) without running completion. It is
// a no-op once the bundle has already completed or failed.
func (c *BundleStorageContext) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateCompleted || c.state == stateFailed {
		return
	}
	c.state = stateFailed
	c.failCause = cause
}

// Ref returns the bundle reference this context was opened for; after
// Complete, StorageKey and ResourcesCount are populated.
func (c *BundleStorageContext) Ref() fetchmodel.BundleRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}
