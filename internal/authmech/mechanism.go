// Package authmech injects authentication headers onto outbound requests.
// Every mechanism shares one contract so connection pools can apply auth on
// every retry attempt without knowing which variant is configured.
package authmech

import (
	"context"

	"github.com/oriys/fetchengine/internal/credentials"
)

// Mechanism augments a header set with whatever credential material it
// needs, re-reading credentials.Provider as needed (e.g. a refreshed OAuth
// token). Implementations must be safe for concurrent use: a pool applies
// the same Mechanism instance across every client it owns.
type Mechanism interface {
	AuthenticateRequest(ctx context.Context, headers map[string]string, provider credentials.Provider) (map[string]string, error)
}

func cloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	return out
}
