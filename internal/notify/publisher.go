// Package notify publishes bundle-completion events to an external queue or
// RPC endpoint so downstream consumers learn about new data without polling
// storage.
package notify

import (
	"context"
	"time"
)

// BundleCompletion is the message shape emitted on every finalized bundle.
type BundleCompletion struct {
	BundleID            string         `json:"bundleId"`
	RecipeID            string         `json:"recipeId"`
	PrimaryURL           string         `json:"primaryUrl"`
	ResourcesCount       int            `json:"resourcesCount"`
	StorageKey           string         `json:"storageKey,omitempty"`
	CompletionTimestamp  string         `json:"completionTimestamp"` // RFC3339 UTC
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Publisher delivers a BundleCompletion message. Publish failures propagate:
// they indicate an operational issue with the notification channel, not a
// problem with the data that was just stored.
type Publisher interface {
	Publish(ctx context.Context, msg BundleCompletion) error
	Close() error
}

// NewBundleCompletion stamps msg.CompletionTimestamp as the current instant
// in RFC3339 UTC.
func NewBundleCompletion(bundleID, recipeID, primaryURL string, resourcesCount int, storageKey string, metadata map[string]any) BundleCompletion {
	return BundleCompletion{
		BundleID:            bundleID,
		RecipeID:            recipeID,
		PrimaryURL:          primaryURL,
		ResourcesCount:      resourcesCount,
		StorageKey:          storageKey,
		CompletionTimestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:            metadata,
	}
}
