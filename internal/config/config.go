// Package config defines the configuration of the orderpush functions.
// Configuration is loaded once at cold start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Manager (Lowest)
//
// Any missing required value or invalid format fails the cold start
// (fail fast), so a misconfigured revision never serves traffic.
package config

import (
	"fmt"
	"time"

	"orderpush/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Storage backends.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
	// BackendNone disables the delivery ledger.
	BackendNone = "none"
)

// Push providers.
const (
	ProviderPusher = "pusher"
	ProviderLog    = "log"
)

// Notification payload modes.
const (
	PayloadDocument   = "document"
	PayloadDailyTotal = "daily_total"
)

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"K_SERVICE" default:"orderpush"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	// IsTestMode replaces the push provider with the logging stub.
	IsTestMode bool `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	GCP      GCPConfig
	Gate     GateConfig
	Ledger   LedgerConfig
	Push     PushConfig
	Orders   OrdersConfig
	Database DatabaseConfig
	Redis    RedisConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// GCPConfig identifies the project and Firestore database.
type GCPConfig struct {
	// ProjectID may be empty; the Firestore client then detects it from the
	// runtime credentials.
	ProjectID         string `envconfig:"GOOGLE_CLOUD_PROJECT"`
	FirestoreDatabase string `envconfig:"FIRESTORE_DATABASE" default:"(default)"`
}

// GateConfig configures the notification gate.
type GateConfig struct {
	ThresholdMinutes int    `envconfig:"THRESHOLD_PUSH_DATA" default:"5" validate:"gt=0"`
	Backend          string `envconfig:"GATE_BACKEND" default:"firestore" validate:"oneof=firestore postgres redis memory"`
	Collection       string `envconfig:"GATE_COLLECTION" default:"push" validate:"required"`
}

// Window returns the gate window.
func (g GateConfig) Window() time.Duration {
	return time.Duration(g.ThresholdMinutes) * time.Minute
}

// LedgerConfig configures the delivery ledger that suppresses redelivered
// change events.
type LedgerConfig struct {
	Backend    string        `envconfig:"LEDGER_BACKEND" default:"firestore" validate:"oneof=firestore postgres redis memory none"`
	Collection string        `envconfig:"LEDGER_COLLECTION" default:"push_deliveries" validate:"required"`
	TTL        time.Duration `envconfig:"LEDGER_TTL" default:"72h" validate:"gte=0"`
}

// PushConfig holds the push provider credentials and notification shape.
type PushConfig struct {
	Provider string       `envconfig:"PUSH_PROVIDER" default:"pusher" validate:"oneof=pusher log"`
	AppID    string       `envconfig:"PUSHER_APP_ID"`
	Key      string       `envconfig:"PUSHER_KEY"`
	Secret   SecretString `envconfig:"PUSHER_SECRET"`
	Cluster  string       `envconfig:"PUSHER_CLUSTER"`
	// Host overrides the cluster endpoint (local fake servers).
	Host string `envconfig:"PUSHER_HOST"`

	Channel    string        `envconfig:"PUSHER_CHANNEL" default:"orders" validate:"required"`
	Event      string        `envconfig:"PUSHER_EVENT" default:"new-order" validate:"required"`
	RatePerSec int           `envconfig:"PUSHER_RATE_PER_SEC" default:"10" validate:"gte=0"`
	Timeout    time.Duration `envconfig:"PUSHER_TIMEOUT" default:"10s" validate:"gt=0"`
	UserAgent  string        `envconfig:"PUSHER_USER_AGENT" default:"orderpush/1.0"`

	Payload         string `envconfig:"NOTIFICATION_PAYLOAD" default:"document" validate:"oneof=document daily_total"`
	DailyTotalEvent string `envconfig:"DAILY_TOTAL_EVENT" default:"daily-total" validate:"required"`
	ReportTimezone  string `envconfig:"REPORT_TIMEZONE" default:"UTC" validate:"required"`
}

// Location returns the time zone daily totals are counted in.
func (p PushConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE %q: %w", p.ReportTimezone, err)
	}
	return loc, nil
}

// OrdersConfig configures order intake.
type OrdersConfig struct {
	Backend         string `envconfig:"ORDER_BACKEND" default:"firestore" validate:"oneof=firestore postgres memory"`
	Collection      string `envconfig:"ORDERS_COLLECTION" default:"orders" validate:"required"`
	MaxMessageBytes int    `envconfig:"MAX_MESSAGE_BYTES" default:"1048576" validate:"gt=0"`
}

// DatabaseConfig holds the PostgreSQL connection, used when any backend is
// postgres.
type DatabaseConfig struct {
	URL      SecretString `envconfig:"DATABASE_URL"`
	MaxConns int32        `envconfig:"DB_MAX_CONNS" default:"4" validate:"gt=0"`
}

// RedisConfig holds the Redis connection, used when any backend is redis.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
}

// UsesBackend reports whether any store is configured with backend.
func (c *Config) UsesBackend(backend string) bool {
	return c.Gate.Backend == backend || c.Ledger.Backend == backend || c.Orders.Backend == backend
}

// PushProvider returns the effective push provider.
func (c *Config) PushProvider() string {
	if c.IsTestMode {
		return ProviderLog
	}
	return c.Push.Provider
}

// BuildInfo identifies the running build. Version, Commit and BuildTime come
// from ldflags; Revision is the platform revision (K_REVISION) when deployed.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
	Revision  string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when fetching secrets from
	// Secret Manager.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
