package authmech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oriys/fetchengine/internal/credentials"
)

func providerFor(configName, key, secret string) credentials.Provider {
	backend := credentials.NewMemoryBackend(map[string]map[string]string{
		configName + "-sftp-credentials": {"consumer_key": key, "consumer_secret": secret},
	})
	return credentials.NewSecretsManagerProvider(backend, "")
}

func TestOAuthAcquiresAndCachesToken(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("unexpected basic auth: %q/%q ok=%v", user, pass, ok)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	}))
	defer srv.Close()

	m := NewOAuthClientCredentials("acme", srv.URL)
	provider := providerFor("acme", "key", "secret")

	headers, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider)
	if err != nil {
		t.Fatalf("AuthenticateRequest returned error: %v", err)
	}
	if headers["Authorization"] != "Bearer tok-1" {
		t.Fatalf("Authorization = %q, want %q", headers["Authorization"], "Bearer tok-1")
	}

	if _, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider); err != nil {
		t.Fatalf("second AuthenticateRequest returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("token endpoint called %d times, want 1 (cached)", got)
	}
}

func TestOAuthCoalescesConcurrentAcquisitions(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-shared", "expires_in": 3600})
	}))
	defer srv.Close()

	m := NewOAuthClientCredentials("acme", srv.URL)
	provider := providerFor("acme", "key", "secret")

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider)
			if err != nil {
				t.Errorf("AuthenticateRequest returned error: %v", err)
				return
			}
			results[i] = headers["Authorization"]
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != "Bearer tok-shared" {
			t.Fatalf("got %q, want %q", r, "Bearer tok-shared")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("token endpoint called %d times under concurrency, want 1", got)
	}
}

func TestOAuthNonOKDoesNotUpdateState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewOAuthClientCredentials("acme", srv.URL)
	provider := providerFor("acme", "key", "secret")

	if _, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider); err == nil {
		t.Fatal("expected error from non-200 token endpoint")
	}
	m.mu.Lock()
	token := m.accessToken
	m.mu.Unlock()
	if token != "" {
		t.Fatalf("accessToken = %q, want empty after failed acquisition", token)
	}
}

func TestNoneMechanismIsIdentity(t *testing.T) {
	headers := map[string]string{"X-Foo": "bar"}
	out, err := None{}.AuthenticateRequest(context.Background(), headers, nil)
	if err != nil {
		t.Fatalf("AuthenticateRequest returned error: %v", err)
	}
	if out["X-Foo"] != "bar" || len(out) != 1 {
		t.Fatalf("expected headers unchanged, got %v", out)
	}
}
