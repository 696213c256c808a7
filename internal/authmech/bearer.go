package authmech

import (
	"context"
	"sync"

	"github.com/oriys/fetchengine/internal/credentials"
)

// Bearer injects "Authorization: Bearer <token>", caching the token after
// the first lookup.
type Bearer struct {
	ConfigName string
	TokenKey   string

	mu     sync.Mutex
	token  string
	cached bool
}

// NewBearer builds a Bearer mechanism resolving the "token" key under
// configName unless overridden.
func NewBearer(configName string) *Bearer {
	return &Bearer{ConfigName: configName, TokenKey: "token"}
}

func (m *Bearer) AuthenticateRequest(ctx context.Context, headers map[string]string, provider credentials.Provider) (map[string]string, error) {
	m.mu.Lock()
	token, cached := m.token, m.cached
	m.mu.Unlock()

	if !cached {
		t, err := provider.GetCredential(ctx, m.ConfigName, m.TokenKey)
		if err != nil {
			return nil, err
		}
		token = t
		m.mu.Lock()
		m.token, m.cached = token, true
		m.mu.Unlock()
	}

	out := cloneHeaders(headers)
	out["Authorization"] = "Bearer " + token
	return out, nil
}
