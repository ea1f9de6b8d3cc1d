package extension

import (
	"time"

	credits "github.com/xraph/credits"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger. It takes precedence over the
// configured store driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a credits.Option through to the underlying ledger.
func WithLedgerOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, credits.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents building the HTTP API.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for credits routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithStoreDriver selects a store backend by driver name and DSN.
func WithStoreDriver(driver, dsn string) Option {
	return func(e *Extension) {
		e.config.Store.Driver = driver
		e.config.Store.DSN = dsn
	}
}

// WithCatalogTTL sets the pricing catalog cache duration.
func WithCatalogTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.CatalogTTL = d }
}

// WithCatalogFile keeps the pricing catalog in a TOML file.
func WithCatalogFile(path string) Option {
	return func(e *Extension) { e.config.CatalogFile = path }
}

// WithWebhookSecret enables the billing webhook route.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithChargeRetryProfile sets the retry profile for charged work.
func WithChargeRetryProfile(name string) Option {
	return func(e *Extension) { e.config.ChargeRetryProfile = name }
}

// WithKafka publishes committed transactions to topic on brokers.
func WithKafka(brokers []string, topic string) Option {
	return func(e *Extension) {
		e.config.Kafka = KafkaConfig{Brokers: brokers, Topic: topic}
	}
}

// WithAuditRecorder records credit actions through r.
func WithAuditRecorder(r audithook.Recorder, opts ...audithook.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, credits.WithPlugin(audithook.New(r, opts...)))
	}
}
