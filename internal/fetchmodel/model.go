// Package fetchmodel holds the plain data types shared across the fetch
// engine: the unit of queued work (RequestMeta), the handle to a logical
// bundle of resources (BundleRef), per-resource metadata, and the recipe
// and run-context types that tie locators, the loader, and storage together.
package fetchmodel

import (
	"context"
	"time"

	"github.com/oriys/fetchengine/internal/bid"
)

// RequestMeta is an immutable, serializable unit of work enqueued by a
// locator and consumed by a worker. It carries everything the loader needs
// to perform the protocol operation for one BundleRef.
type RequestMeta struct {
	URL     string            `json:"url"`
	Depth   int               `json:"depth"`
	Referer string            `json:"referer,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Flags   map[string]any    `json:"flags,omitempty"`
}

// ResourceMeta is the per-resource record attached to a bundle when a
// resource is added via BundleStorageContext.AddResource.
type ResourceMeta struct {
	URL         string            `json:"url"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Note        string            `json:"note,omitempty"`
}

// BundleRef is the in-memory handle to a bundle: created by a locator
// (implicitly minting a BID), consumed by the scheduler, and finalized by
// storage. Meta carries locator-specific hints and is advisory only; no
// invariant depends on its contents.
type BundleRef struct {
	BID            bid.BID        `json:"bid"`
	PrimaryURL     string         `json:"primary_url"`
	ResourcesCount int            `json:"resources_count"`
	StorageKey     string         `json:"storage_key,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// FetcherRecipe assembles an ordered list of locators with the loader that
// will service the requests they emit. Immutable for the duration of a run.
type FetcherRecipe struct {
	RecipeID string
	Locators []NamedLocator
	Loader   Loader
}

// NamedLocator pairs a locator instance with the id used to namespace its
// cursor and dedup state in the KVS.
type NamedLocator struct {
	ID      string
	Locator Locator
}

// Locator is the minimal interface fetchmodel needs to avoid an import
// cycle with the locator package; internal/locator.Locator is an alias of it.
type Locator interface {
	GetNextBundleRefs(ctx FetchRunContextProvider, needed int) ([]BundleRef, error)
	HandleRequestProcessed(ctx FetchRunContextProvider, ref BundleRef, req RequestMeta, ok bool)
	OnBundleCompleteHook(ctx FetchRunContextProvider, ref BundleRef)
}

// Loader is the minimal interface fetchmodel needs to avoid an import cycle
// with the loader package; loader.HTTPLoader and loader.SFTPLoader implement it.
// ctx carries cancellation down to every pool Acquire/Request/storage call
// the loader makes; runCtx carries the run's KVS/credential/storage handles.
type Loader interface {
	Load(ctx context.Context, runCtx FetchRunContextProvider, req RequestMeta, ref BundleRef) ([]BundleRef, error)
}

// FetchRunContextProvider lets locator/loader implementations reach the run
// context (KVS handle, credential provider, storage, shared map) without
// importing the concrete FetchRunContext type, keeping the dependency graph
// a DAG (locator/loader -> fetchmodel only).
type FetchRunContextProvider interface {
	RunID() string
	SharedMap() *SharedMap
}

// FetchRunContext is carried by every component for the duration of one
// run. appConfig bundles the credential provider, KVS handle, and storage
// handle; those concrete types live in their own packages and are stored
// here as `any` to avoid a dependency cycle. No package in this module reads
// AppConfig back.
type FetchRunContext struct {
	runID     string
	Shared    *SharedMap
	AppConfig any
}

// NewFetchRunContext builds a run context for runID.
func NewFetchRunContext(runID string, appConfig any) *FetchRunContext {
	return &FetchRunContext{runID: runID, Shared: NewSharedMap(), AppConfig: appConfig}
}

func (c *FetchRunContext) RunID() string        { return c.runID }
func (c *FetchRunContext) SharedMap() *SharedMap { return c.Shared }

// FetchPlan is a recipe plus the desired worker concurrency.
type FetchPlan struct {
	Recipe      FetcherRecipe
	Context     *FetchRunContext
	Concurrency int
}

// FetchResult summarizes one completed (or cancelled) run.
type FetchResult struct {
	ProcessedCount int
	Errors         []error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// KVEntry is a key/value record with an optional absolute expiry.
type KVEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}
