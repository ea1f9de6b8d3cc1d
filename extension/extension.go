// Package extension provides the Forge extension adapter for the credit
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
// Register provides *credits.Ledger, *catalog.Cache, *charge.Runner,
// *billing.Processor and, unless routes are disabled, *api.Server and an
// http.Handler serving the API under BasePath.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/charge"
	kafkahook "github.com/xraph/credits/kafka_hook"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/retry"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/mongo"
	"github.com/xraph/credits/store/postgres"
	"github.com/xraph/credits/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Transactional credit ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credit ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	store      store.Store
	ledgerOpts []credits.Option

	ledger    *credits.Ledger
	catalog   *catalog.Cache
	runner    *charge.Runner
	processor *billing.Processor
	metrics   *observability.PrometheusFactory
	server    *api.Server
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the underlying ledger.
// This is nil until Register is called.
func (e *Extension) Ledger() *credits.Ledger { return e.ledger }

// Runner returns the charge runner.
func (e *Extension) Runner() *charge.Runner { return e.runner }

// Server returns the HTTP API, or nil when routes are disabled.
func (e *Extension) Server() *api.Server { return e.server }

// Register implements [forge.Extension]. It loads configuration, builds
// the ledger and its collaborators, and registers them in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(context.Background()); err != nil {
		return err
	}

	c := fapp.Container()
	if err := vessel.Provide(c, func() (*credits.Ledger, error) { return e.ledger, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*catalog.Cache, error) { return e.catalog, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*charge.Runner, error) { return e.runner, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*billing.Processor, error) { return e.processor, nil }); err != nil {
		return err
	}
	if e.server == nil {
		return nil
	}
	if err := vessel.Provide(c, func() (*api.Server, error) { return e.server, nil }); err != nil {
		return err
	}
	return vessel.Provide(c, func() (http.Handler, error) { return e.Handler(), nil })
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.ledger == nil {
		return errors.New("credits: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.ledger.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.ledger != nil {
		if err := e.ledger.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Handler serves the API under BasePath. It returns nil when routes are
// disabled.
func (e *Extension) Handler() http.Handler {
	if e.server == nil {
		return nil
	}
	r := chi.NewRouter()
	r.Route(e.config.BasePath, e.server.Routes)
	return r
}

// build wires the ledger and its collaborators from the resolved config.
func (e *Extension) build(ctx context.Context) error {
	// Resolve everything that can fail before opening the store.
	policy, ok := retry.Profile(e.config.ChargeRetryProfile)
	if !ok {
		return fmt.Errorf("credits: unknown charge retry profile %q", e.config.ChargeRetryProfile)
	}

	if e.store == nil {
		s, err := openStore(ctx, e.config.Store)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.metrics = observability.NewPrometheusFactory()
	opts := make([]credits.Option, 0, len(e.ledgerOpts)+2)
	opts = append(opts, credits.WithPlugin(observability.NewMetricsExtension(e.metrics)))
	if len(e.config.Kafka.Brokers) > 0 {
		w := kafkahook.NewWriter(e.config.Kafka.Brokers, e.config.Kafka.Topic)
		opts = append(opts, credits.WithPlugin(kafkahook.New(w)))
	}
	opts = append(opts, e.ledgerOpts...)
	e.ledger = credits.New(e.store, opts...)

	var (
		src    catalog.Source = e.store
		writer catalog.Writer = e.store
	)
	if e.config.CatalogFile != "" {
		fs := catalog.NewFileSource(e.config.CatalogFile)
		src, writer = fs, fs
	}
	e.catalog = catalog.NewCache(src,
		catalog.WithTTL(e.config.CatalogTTL),
		catalog.WithLogger(e.ledger.Logger()),
	)

	e.runner = charge.NewRunner(e.ledger,
		charge.WithPolicy(policy),
		charge.WithCatalog(e.catalog),
	)
	e.processor = billing.NewProcessor(e.ledger, billing.WithCatalog(e.catalog))

	if e.config.DisableRoutes {
		return nil
	}
	apiOpts := []api.Option{
		api.WithCatalog(e.catalog, writer),
		api.WithMetrics(e.metrics.Handler()),
	}
	if e.config.WebhookSecret != "" {
		apiOpts = append(apiOpts, api.WithBilling(e.processor, e.config.WebhookSecret))
	}
	e.server = api.NewServer(e.ledger, apiOpts...)
	return nil
}

// openStore constructs the configured store backend.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case DriverMongo:
		database := cfg.Database
		if database == "" {
			database = "credits"
		}
		return mongo.Open(ctx, cfg.DSN, database)
	}
	return nil, fmt.Errorf("credits: unknown store driver %q", cfg.Driver)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("catalog_ttl", e.config.CatalogTTL),
		forge.F("catalog_file", e.config.CatalogFile),
		forge.F("charge_retry_profile", e.config.ChargeRetryProfile),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.credits", "credits"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	if cfg.CatalogTTL == 0 {
		cfg.CatalogTTL = defaults.CatalogTTL
	}
	if cfg.ChargeRetryProfile == "" {
		cfg.ChargeRetryProfile = defaults.ChargeRetryProfile
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.CatalogTTL == 0 {
		yamlConfig.CatalogTTL = programmaticConfig.CatalogTTL
	}
	if yamlConfig.CatalogFile == "" {
		yamlConfig.CatalogFile = programmaticConfig.CatalogFile
	}
	if yamlConfig.WebhookSecret == "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}
	if yamlConfig.ChargeRetryProfile == "" {
		yamlConfig.ChargeRetryProfile = programmaticConfig.ChargeRetryProfile
	}
	if len(yamlConfig.Kafka.Brokers) == 0 {
		yamlConfig.Kafka = programmaticConfig.Kafka
	}

	return mergeWithDefaults(yamlConfig)
}
