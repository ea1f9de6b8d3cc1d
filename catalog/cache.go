package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched catalog is served before re-reading the source.
const DefaultTTL = 5 * time.Minute

// Source loads the stored catalog.
type Source interface {
	LoadCatalog(ctx context.Context) (*Config, error)
}

// Writer persists a catalog.
type Writer interface {
	SaveCatalog(ctx context.Context, cfg *Config) error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets how long a fetched catalog stays fresh.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the clock used for TTL checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// Cache serves the catalog from memory for a TTL, falling back to Default
// when the source fails. It is safe for concurrent use.
type Cache struct {
	src    Source
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	cached    *Config
	fetchedAt time.Time
	// gen advances on every Invalidate. A load only populates the cache if
	// no invalidation happened while it was in flight.
	gen uint64
}

// NewCache creates a Cache reading from src.
func NewCache(src Source, opts ...CacheOption) *Cache {
	c := &Cache{
		src:    src,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current catalog. It never fails: a source error yields
// Default, which is not cached so the next call retries the source.
// Callers must not mutate the returned value.
func (c *Cache) Get(ctx context.Context) *Config {
	now := c.now()

	c.mu.RLock()
	if c.cached != nil && now.Sub(c.fetchedAt) < c.ttl {
		cfg := c.cached
		c.mu.RUnlock()
		return cfg
	}
	gen := c.gen
	c.mu.RUnlock()

	cfg, err := c.src.LoadCatalog(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error("catalog: load failed, serving defaults", "error", err)
		}
		return Default()
	}

	c.mu.Lock()
	if c.gen == gen {
		c.cached = cfg
		c.fetchedAt = now
	}
	c.mu.Unlock()

	return cfg
}

// Cached returns the cached catalog without touching the source, or nil.
func (c *Cache) Cached() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Invalidate drops the cached catalog.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.fetchedAt = time.Time{}
	c.gen++
	c.mu.Unlock()
}

// Update reads the stored catalog (or Default when none exists), applies fn
// to a copy, validates and saves it through w, then invalidates the cache.
func (c *Cache) Update(ctx context.Context, w Writer, fn func(*Config) error) error {
	current, err := c.src.LoadCatalog(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		current = Default()
	case err != nil:
		return err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = c.now().UTC()

	if err := w.SaveCatalog(ctx, next); err != nil {
		return err
	}

	c.Invalidate()
	c.logger.Info("catalog updated", "updated_at", next.UpdatedAt)
	return nil
}

// UpdateCosts replaces the operation costs.
func (c *Cache) UpdateCosts(ctx context.Context, w Writer, costs Costs) error {
	return c.Update(ctx, w, func(cfg *Config) error {
		cfg.Costs = costs
		return nil
	})
}

// UpdatePlan inserts or replaces a plan.
func (c *Cache) UpdatePlan(ctx context.Context, w Writer, key string, p Plan) error {
	return c.Update(ctx, w, func(cfg *Config) error {
		if key == "" {
			return fmt.Errorf("%w: plan key is required", ErrInvalid)
		}
		if cfg.Plans == nil {
			cfg.Plans = make(map[string]Plan)
		}
		cfg.Plans[key] = p
		return nil
	})
}

// UpdateCreditPacks replaces the credit packs.
func (c *Cache) UpdateCreditPacks(ctx context.Context, w Writer, packs []CreditPack) error {
	return c.Update(ctx, w, func(cfg *Config) error {
		cfg.CreditPacks = packs
		return nil
	})
}

// UpdateTrial replaces the trial settings.
func (c *Cache) UpdateTrial(ctx context.Context, w Writer, t Trial) error {
	return c.Update(ctx, w, func(cfg *Config) error {
		cfg.Trial = t
		return nil
	})
}
