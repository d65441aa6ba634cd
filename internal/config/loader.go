// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SECRET_REF suffix variables.
//  4. If APP_ENV != "local", resolve them via the SecretProvider and inject
//     the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator, including the
//     cross-field rules for the selected backends.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretRefSuffix identifies secret pointer variables. For example,
// PUSHER_SECRET_SECRET_REF names the Secret Manager secret holding
// PUSHER_SECRET.
const secretRefSuffix = "_SECRET_REF"

// localEnv is the APP_ENV value that bypasses secret resolution.
const localEnv = "local"

// secretResolveTimeout bounds the whole secret resolution step.
const secretResolveTimeout = 30 * time.Second

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration. provider may be nil in
// local mode or when no _SECRET_REF variables are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv.Load does NOT override existing environment variables and
	// silently succeeds when no .env file exists.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSecretRefs(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = newBuildInfo(deps.lookupEnv)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules that span fields: credentials
// for the selected push provider and connection settings for the selected
// backends.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(crossFieldRules, Config{})
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

func crossFieldRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.PushProvider() == ProviderPusher {
		if cfg.Push.AppID == "" {
			sl.ReportError(cfg.Push.AppID, "Push.AppID", "AppID", "required_for_pusher", "")
		}
		if cfg.Push.Key == "" {
			sl.ReportError(cfg.Push.Key, "Push.Key", "Key", "required_for_pusher", "")
		}
		if cfg.Push.Secret == "" {
			sl.ReportError(cfg.Push.Secret, "Push.Secret", "Secret", "required_for_pusher", "")
		}
		if cfg.Push.Cluster == "" && cfg.Push.Host == "" {
			sl.ReportError(cfg.Push.Cluster, "Push.Cluster", "Cluster", "cluster_or_host", "")
		}
	}
	if cfg.UsesBackend(BackendPostgres) && cfg.Database.URL == "" {
		sl.ReportError(cfg.Database.URL, "Database.URL", "URL", "required_for_postgres", "")
	}
	if cfg.UsesBackend(BackendRedis) && cfg.Redis.Addr == "" {
		sl.ReportError(cfg.Redis.Addr, "Redis.Addr", "Addr", "required_for_redis", "")
	}
	if cfg.Push.Payload == PayloadDailyTotal {
		if _, err := cfg.Push.Location(); err != nil {
			sl.ReportError(cfg.Push.ReportTimezone, "Push.ReportTimezone", "ReportTimezone", "timezone", "")
		}
	}
}

// resolveSecretRefs scans the environment for variables ending in
// _SECRET_REF, fetches the referenced secrets and injects them under the
// target name. For example PUSHER_SECRET_SECRET_REF=pusher-secret sets
// PUSHER_SECRET from the latest version of secret "pusher-secret".
//
// A target variable that is already set wins over its reference.
func resolveSecretRefs(provider SecretProvider, deps loaderDeps) error {
	type binding struct {
		target string
		ref    string
	}

	var bindings []binding
	refToTargets := make(map[string][]string)

	for _, entry := range deps.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, secretRefSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, secretRefSuffix)
		if target == "" || value == "" {
			continue
		}
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		if _, seen := refToTargets[value]; !seen {
			bindings = append(bindings, binding{target: target, ref: value})
		}
		refToTargets[value] = append(refToTargets[value], target)
	}

	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targets := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targets = append(targets, refToTargets[b.ref]...)
		}
		sort.Strings(targets)
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	refs := make([]string, 0, len(bindings))
	for _, b := range bindings {
		refs = append(refs, b.ref)
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretResolveTimeout)
	defer cancel()

	resolved, err := provider.GetSecretsBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secrets", len(refs)),
			Err:     err,
		}
	}

	var missing []string
	for _, ref := range refs {
		value, ok := resolved[ref]
		if !ok {
			missing = append(missing, refToTargets[ref]...)
			continue
		}
		for _, target := range refToTargets[ref] {
			if err := deps.setEnv(target, value); err != nil {
				return &ConfigError{
					Type:    ErrSecretResolution,
					Message: fmt.Sprintf("failed to set resolved value for %s", target),
					Err:     err,
				}
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("secrets not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
