package credentials

import (
	"context"
	"testing"

	"github.com/oriys/fetchengine/internal/ferrors"
)

func TestEnvProviderMangling(t *testing.T) {
	t.Setenv("OC_CRED_MY_SFTP_CONFIG_USERNAME", "alice")
	p := NewEnvProvider("")

	got, err := p.GetCredential(context.Background(), "my-sftp-config", "username")
	if err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if got != "alice" {
		t.Fatalf("got %q, want %q", got, "alice")
	}
}

func TestEnvProviderMissingKey(t *testing.T) {
	p := NewEnvProvider("")
	_, err := p.GetCredential(context.Background(), "whatever", "missing")
	if kind, ok := ferrors.KindOf(err); !ok || kind != ferrors.Resource {
		t.Fatalf("err = %v, want a Resource-kind error", err)
	}
}

func TestSecretsManagerProviderCachesPerConfig(t *testing.T) {
	backend := NewMemoryBackend(map[string]map[string]string{
		"acme-sftp-credentials": {"username": "bob", "password": "hunter2"},
	})
	p := NewSecretsManagerProvider(backend, "")

	for i := 0; i < 3; i++ {
		got, err := p.GetCredential(context.Background(), "acme", "username")
		if err != nil {
			t.Fatalf("GetCredential returned error: %v", err)
		}
		if got != "bob" {
			t.Fatalf("got %q, want %q", got, "bob")
		}
	}
	if backend.Calls["acme-sftp-credentials"] != 1 {
		t.Fatalf("backend called %d times, want 1 (cached)", backend.Calls["acme-sftp-credentials"])
	}
}

func TestSecretsManagerProviderClearInvalidatesCache(t *testing.T) {
	backend := NewMemoryBackend(map[string]map[string]string{
		"acme-sftp-credentials": {"username": "bob"},
	})
	p := NewSecretsManagerProvider(backend, "")

	if _, err := p.GetCredential(context.Background(), "acme", "username"); err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	p.Clear()
	if _, err := p.GetCredential(context.Background(), "acme", "username"); err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if backend.Calls["acme-sftp-credentials"] != 2 {
		t.Fatalf("backend called %d times after Clear, want 2", backend.Calls["acme-sftp-credentials"])
	}
}

func TestSecretsManagerProviderMissingField(t *testing.T) {
	backend := NewMemoryBackend(map[string]map[string]string{
		"acme-sftp-credentials": {"username": "bob"},
	})
	p := NewSecretsManagerProvider(backend, "")

	_, err := p.GetCredential(context.Background(), "acme", "password")
	if kind, ok := ferrors.KindOf(err); !ok || kind != ferrors.Resource {
		t.Fatalf("err = %v, want a Resource-kind error", err)
	}
}
