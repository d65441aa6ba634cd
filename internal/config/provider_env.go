package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by resolving each reference as
// the name of an OS environment variable. Used for local development and
// tests.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetSecretsBatch implements SecretProvider. Missing variables are omitted.
func (p *EnvVarProvider) GetSecretsBatch(_ context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if val, ok := os.LookupEnv(ref); ok {
			result[ref] = val
		}
	}
	return result, nil
}
