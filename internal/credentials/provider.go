// Package credentials resolves (configName, key) pairs to secret values,
// with pluggable backends, some of which cache lookups.
package credentials

import (
	"context"

	"github.com/oriys/fetchengine/internal/ferrors"
)

// Provider resolves a credential; an implementation may cache lookups.
// Clear invalidates all cached entries (a no-op for one that does not cache).
type Provider interface {
	GetCredential(ctx context.Context, configName, key string) (string, error)
	Clear()
}

// errKeyMissing/errAccessDenied classify provider failures per the engine's
// taxonomy; callers compare with ferrors.KindOf.
func errKeyMissing(key string) error {
	return ferrors.ErrKeyMissing.WithField(key)
}

func errAccessDenied(key string) error {
	return ferrors.ErrAccessDenied.WithField(key)
}
