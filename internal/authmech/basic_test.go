package authmech

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/oriys/fetchengine/internal/credentials"
)

func TestBasicInjectsAndCachesHeader(t *testing.T) {
	backend := credentials.NewMemoryBackend(map[string]map[string]string{
		"sftp1-sftp-credentials": {"username": "alice", "password": "s3cret"},
	})
	provider := credentials.NewSecretsManagerProvider(backend, "")
	m := NewBasic("sftp1")

	headers, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider)
	if err != nil {
		t.Fatalf("AuthenticateRequest returned error: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	if headers["Authorization"] != want {
		t.Fatalf("Authorization = %q, want %q", headers["Authorization"], want)
	}

	if _, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider); err != nil {
		t.Fatalf("second AuthenticateRequest returned error: %v", err)
	}
	if backend.Calls["sftp1-sftp-credentials"] != 1 {
		t.Fatalf("backend called %d times, want 1 (cached)", backend.Calls["sftp1-sftp-credentials"])
	}
}

func TestBearerInjectsAndCachesToken(t *testing.T) {
	backend := credentials.NewMemoryBackend(map[string]map[string]string{
		"svc-sftp-credentials": {"token": "abc123"},
	})
	provider := credentials.NewSecretsManagerProvider(backend, "")
	m := NewBearer("svc")

	headers, err := m.AuthenticateRequest(context.Background(), map[string]string{}, provider)
	if err != nil {
		t.Fatalf("AuthenticateRequest returned error: %v", err)
	}
	if headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("Authorization = %q, want %q", headers["Authorization"], "Bearer abc123")
	}
}

func TestOriginalHeadersPreserved(t *testing.T) {
	backend := credentials.NewMemoryBackend(map[string]map[string]string{
		"svc-sftp-credentials": {"token": "abc123"},
	})
	provider := credentials.NewSecretsManagerProvider(backend, "")
	m := NewBearer("svc")

	headers, err := m.AuthenticateRequest(context.Background(), map[string]string{"X-Trace": "1"}, provider)
	if err != nil {
		t.Fatalf("AuthenticateRequest returned error: %v", err)
	}
	if headers["X-Trace"] != "1" {
		t.Fatalf("expected pre-existing header preserved, got %v", headers)
	}
}
