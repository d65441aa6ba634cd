package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both Secret
// Manager (deployed) and environment variables (local development).
type SecretProvider interface {
	// GetSecretsBatch resolves the given secret references and returns a
	// map of reference -> plaintext value for every resolved secret.
	GetSecretsBatch(ctx context.Context, refs []string) (map[string]string, error)
}

// Secret provider names accepted by NewSecretProvider.
const (
	SecretProviderSecretManager = "secretmanager"
	SecretProviderEnv           = "env"
)

// NewSecretProvider returns the provider selected by kind. Anything other
// than "env" uses Secret Manager in project. Emulator runs use "env" to
// resolve references against variables that already hold the values.
func NewSecretProvider(kind, project string) SecretProvider {
	if kind == SecretProviderEnv {
		return NewEnvVarProvider()
	}
	return NewSecretManagerProvider(project)
}
