package credentials

import (
	"context"
	"os"
	"strings"
)

// EnvProvider resolves credentials from environment variables, mangling
// (configName, key) as <prefix><CONFIG_NAME>_<KEY> with '-' replaced by '_'
// and both segments uppercased.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider builds an EnvProvider with prefix "OC_CRED_" unless
// overridden.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "OC_CRED_"
	}
	return &EnvProvider{Prefix: prefix}
}

func (p *EnvProvider) envName(configName, key string) string {
	mangle := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	}
	return p.Prefix + mangle(configName) + "_" + mangle(key)
}

func (p *EnvProvider) GetCredential(ctx context.Context, configName, key string) (string, error) {
	name := p.envName(configName, key)
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", errKeyMissing(name)
	}
	return v, nil
}

func (p *EnvProvider) Clear() {}
