package extension

import "time"

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableRoutes prevents building the HTTP API.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for credits routes (default: "/credits").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Store selects the balance store backend when none was set with
	// WithStore.
	Store StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// CatalogTTL controls how long the pricing catalog is cached
	// in-process before it is re-read (default: 5m).
	CatalogTTL time.Duration `json:"catalog_ttl" mapstructure:"catalog_ttl" yaml:"catalog_ttl"`

	// CatalogFile, when set, reads and writes the pricing catalog as a TOML
	// file instead of the store.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// WebhookSecret signs billing provider webhooks. The webhook route is
	// only mounted when it is set.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// ChargeRetryProfile names the retry policy for charged work:
	// "default", "store" or "network" (default: "network").
	ChargeRetryProfile string `json:"charge_retry_profile" mapstructure:"charge_retry_profile" yaml:"charge_retry_profile"`

	// Kafka publishes committed transactions when Brokers is non-empty.
	Kafka KafkaConfig `json:"kafka" mapstructure:"kafka" yaml:"kafka"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// StoreConfig selects and locates a store backend.
type StoreConfig struct {
	Driver   string `json:"driver"   mapstructure:"driver"   yaml:"driver"`
	DSN      string `json:"dsn"      mapstructure:"dsn"      yaml:"dsn"`
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// KafkaConfig locates the transaction event topic.
type KafkaConfig struct {
	Brokers []string `json:"brokers" mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic"   mapstructure:"topic"   yaml:"topic"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:           "/credits",
		Store:              StoreConfig{Driver: DriverMemory},
		CatalogTTL:         5 * time.Minute,
		ChargeRetryProfile: "network",
	}
}
