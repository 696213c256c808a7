package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretBackend fetches a logical secret name and returns its fields as a
// flat string map, so callers can pull a single key out of a multi-field
// secret (e.g. {"username": "...", "password": "..."}).
type SecretBackend interface {
	FetchSecret(ctx context.Context, name string) (map[string]string, error)
}

// SecretsManagerBackend resolves secrets through AWS Secrets Manager,
// treating the secret string as a JSON object.
type SecretsManagerBackend struct {
	client *secretsmanager.Client
}

// NewSecretsManagerBackend wraps an AWS Secrets Manager client.
func NewSecretsManagerBackend(client *secretsmanager.Client) *SecretsManagerBackend {
	return &SecretsManagerBackend{client: client}
}

func (b *SecretsManagerBackend) FetchSecret(ctx context.Context, name string) (map[string]string, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, errAccessDenied(name)
	}
	if out.SecretString == nil {
		return nil, errKeyMissing(name)
	}
	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return nil, fmt.Errorf("credentials: decode secret %q: %w", name, err)
	}
	return fields, nil
}

// SecretsManagerProvider resolves (configName, key) by fetching the
// "<configName>-sftp-credentials"-style secret once per configName and
// caching its fields, so repeated GetCredential calls for the same config
// don't round-trip to the backend.
type SecretsManagerProvider struct {
	backend    SecretBackend
	nameFormat string // fmt string with one %s hole for configName

	mu    sync.Mutex
	cache map[string]map[string]string
}

// NewSecretsManagerProvider builds a provider over backend. nameFormat
// defaults to "%s-sftp-credentials" matching the documented secret-name
// convention; pass "" to use the default.
func NewSecretsManagerProvider(backend SecretBackend, nameFormat string) *SecretsManagerProvider {
	if nameFormat == "" {
		nameFormat = "%s-sftp-credentials"
	}
	return &SecretsManagerProvider{
		backend:    backend,
		nameFormat: nameFormat,
		cache:      make(map[string]map[string]string),
	}
}

func (p *SecretsManagerProvider) GetCredential(ctx context.Context, configName, key string) (string, error) {
	p.mu.Lock()
	fields, ok := p.cache[configName]
	p.mu.Unlock()

	if !ok {
		secretName := fmt.Sprintf(p.nameFormat, configName)
		fetched, err := p.backend.FetchSecret(ctx, secretName)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.cache[configName] = fetched
		fields = fetched
		p.mu.Unlock()
	}

	v, ok := fields[key]
	if !ok {
		return "", errKeyMissing(key)
	}
	return v, nil
}

func (p *SecretsManagerProvider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]map[string]string)
}
