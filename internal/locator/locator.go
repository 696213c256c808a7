// Package locator implements the concrete BundleLocator classes: fixed URL
// lists, SFTP directory/file enumeration, and forward/reverse API
// pagination over a date-sliced query. Every locator persists its cursor
// and dedup set in the KVS so a restarted run resumes without reprocessing
// or skipping work.
package locator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
)

// errRequestFailed is recorded against an item's error checkpoint when a
// loader reports the request as unsuccessful.
var errRequestFailed = errors.New("request processing failed")

// Locator is the interface every concrete locator in this package
// implements. It is fetchmodel.Locator by another name, kept as a distinct
// type so package documentation can live close to the implementations.
type Locator = fetchmodel.Locator

// cursorStore namespaces one locator's persisted state under
// "locator:<id>:..." and hides the KVS key layout from the concrete
// locators.
type cursorStore struct {
	store kvs.Store
	id    string
}

func (c cursorStore) key(parts ...string) string {
	k := "locator:" + c.id
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// loadCursor unmarshals the persisted cursor into dst, leaving dst at its
// zero value if no cursor has been saved yet.
func (c cursorStore) loadCursor(ctx context.Context, dst any) error {
	raw, err := c.store.Get(ctx, c.key("cursor"))
	if err == kvs.ErrNotFound {
		return nil
	}
	if err != nil {
		return ferrors.New(ferrors.Storage, "locator", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ferrors.New(ferrors.Storage, "locator", err)
	}
	return nil
}

func (c cursorStore) saveCursor(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return ferrors.New(ferrors.Storage, "locator", err)
	}
	if err := c.store.Put(ctx, c.key("cursor"), raw, 0); err != nil {
		return ferrors.New(ferrors.Storage, "locator", err)
	}
	return nil
}

func (c cursorStore) markProcessed(ctx context.Context, itemID, value string) error {
	return c.store.Put(ctx, c.key("processed", itemID), []byte(value), 0)
}

func (c cursorStore) processedValue(ctx context.Context, itemID string) (string, bool, error) {
	raw, err := c.store.Get(ctx, c.key("processed", itemID))
	if err == kvs.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

func (c cursorStore) markError(ctx context.Context, itemID string, cause error) error {
	return c.store.Put(ctx, c.key("error", itemID), []byte(cause.Error()), 0)
}
