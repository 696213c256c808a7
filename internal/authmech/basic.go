package authmech

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/oriys/fetchengine/internal/credentials"
)

// None is the identity mechanism: it leaves headers untouched.
type None struct{}

func (None) AuthenticateRequest(ctx context.Context, headers map[string]string, provider credentials.Provider) (map[string]string, error) {
	return headers, nil
}

// Basic injects "Authorization: Basic base64(user:pass)", caching the
// resolved credential tuple after the first lookup.
type Basic struct {
	ConfigName string
	UserKey    string
	PassKey    string

	mu     sync.Mutex
	cached string
	have   bool
}

// NewBasic builds a Basic mechanism resolving "username"/"password" keys
// under configName unless overridden.
func NewBasic(configName string) *Basic {
	return &Basic{ConfigName: configName, UserKey: "username", PassKey: "password"}
}

func (m *Basic) AuthenticateRequest(ctx context.Context, headers map[string]string, provider credentials.Provider) (map[string]string, error) {
	m.mu.Lock()
	cached, have := m.cached, m.have
	m.mu.Unlock()

	if !have {
		user, err := provider.GetCredential(ctx, m.ConfigName, m.UserKey)
		if err != nil {
			return nil, err
		}
		pass, err := provider.GetCredential(ctx, m.ConfigName, m.PassKey)
		if err != nil {
			return nil, err
		}
		cached = base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))

		m.mu.Lock()
		m.cached, m.have = cached, true
		m.mu.Unlock()
	}

	out := cloneHeaders(headers)
	out["Authorization"] = "Basic " + cached
	return out, nil
}
