// Package catalog holds the pricing configuration that maps chargeable
// operations to credit costs, plus the plans and credit packs that grant
// credits.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/credits/types"
)

// ErrNotFound is returned by a Source that holds no catalog yet.
var ErrNotFound = errors.New("catalog: not found")

// ErrInvalid is returned when a catalog fails validation.
var ErrInvalid = errors.New("catalog: invalid")

// Operation names a chargeable unit of work.
type Operation string

const (
	OpGrid3x3   Operation = "grid3x3"
	OpGrid4x4   Operation = "grid4x4"
	OpUpscale   Operation = "upscale"
	OpEdit      Operation = "edit"
	OpVariation Operation = "variation"
	OpVariety   Operation = "variety"
)

// Operations lists every known operation.
func Operations() []Operation {
	return []Operation{OpGrid3x3, OpGrid4x4, OpUpscale, OpEdit, OpVariation, OpVariety}
}

// Costs is the credit price of each operation.
type Costs struct {
	Grid3x3   int64 `json:"grid3x3"   toml:"grid3x3"   bson:"grid3x3"`
	Grid4x4   int64 `json:"grid4x4"   toml:"grid4x4"   bson:"grid4x4"`
	Upscale   int64 `json:"upscale"   toml:"upscale"   bson:"upscale"`
	Edit      int64 `json:"edit"      toml:"edit"      bson:"edit"`
	Variation int64 `json:"variation" toml:"variation" bson:"variation"`
	Variety   int64 `json:"variety"   toml:"variety"   bson:"variety"`
}

// Of returns the cost of op. The second result is false for unknown operations.
func (c Costs) Of(op Operation) (int64, bool) {
	switch op {
	case OpGrid3x3:
		return c.Grid3x3, true
	case OpGrid4x4:
		return c.Grid4x4, true
	case OpUpscale:
		return c.Upscale, true
	case OpEdit:
		return c.Edit, true
	case OpVariation:
		return c.Variation, true
	case OpVariety:
		return c.Variety, true
	}
	return 0, false
}

// Plan is a recurring subscription that refills credits each period.
type Plan struct {
	MonthlyCredits  int64       `json:"monthly_credits"   toml:"monthly_credits"   bson:"monthly_credits"`
	Price           types.Money `json:"price"             toml:"price"             bson:"price"`
	ProviderPriceID string      `json:"provider_price_id" toml:"provider_price_id" bson:"provider_price_id"`
	Enabled         bool        `json:"enabled"           toml:"enabled"           bson:"enabled"`
}

// CreditPack is a one-off purchase of credits.
type CreditPack struct {
	Credits         int64       `json:"credits"           toml:"credits"           bson:"credits"`
	Price           types.Money `json:"price"             toml:"price"             bson:"price"`
	ProviderPriceID string      `json:"provider_price_id" toml:"provider_price_id" bson:"provider_price_id"`
}

// PricePerCredit returns the pack price divided by its credits, in major units.
func (p CreditPack) PricePerCredit() decimal.Decimal {
	if p.Credits <= 0 {
		return decimal.Zero
	}
	return p.Price.Decimal().Div(decimal.NewFromInt(p.Credits))
}

// Trial controls anonymous trial generations.
type Trial struct {
	Enabled        bool `json:"enabled"         toml:"enabled"         bson:"enabled"`
	MaxGenerations int  `json:"max_generations" toml:"max_generations" bson:"max_generations"`
}

// Config is the full pricing catalog.
type Config struct {
	Costs       Costs           `json:"costs"        toml:"costs"        bson:"costs"`
	Plans       map[string]Plan `json:"plans"        toml:"plans"        bson:"plans"`
	CreditPacks []CreditPack    `json:"credit_packs" toml:"credit_packs" bson:"credit_packs"`
	Trial       Trial           `json:"trial"        toml:"trial"        bson:"trial"`
	UpdatedAt   time.Time       `json:"updated_at"   toml:"updated_at"   bson:"updated_at"`
}

// Default returns the built-in catalog used when no stored catalog is
// available.
func Default() *Config {
	return &Config{
		Costs: Costs{
			Grid3x3:   2,
			Grid4x4:   3,
			Upscale:   1,
			Edit:      1,
			Variation: 1,
			Variety:   1,
		},
		Plans: map[string]Plan{
			"creator": {
				MonthlyCredits: 100,
				Price:          types.EUR(500),
				Enabled:        true,
			},
		},
		CreditPacks: []CreditPack{
			{Credits: 200, Price: types.EUR(1000)},
			{Credits: 500, Price: types.EUR(2000)},
		},
		Trial: Trial{
			Enabled:        true,
			MaxGenerations: 1,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Plans = maps.Clone(c.Plans)
	out.CreditPacks = slices.Clone(c.CreditPacks)
	return &out
}

// Cost returns the credit cost of op.
func (c *Config) Cost(op Operation) (int64, error) {
	cost, ok := c.Costs.Of(op)
	if !ok {
		return 0, fmt.Errorf("catalog: unknown operation %q", op)
	}
	return cost, nil
}

// TotalCost sums the cost of several operations.
func (c *Config) TotalCost(ops ...Operation) (int64, error) {
	var total int64
	for _, op := range ops {
		cost, err := c.Cost(op)
		if err != nil {
			return 0, err
		}
		total += cost
	}
	return total, nil
}

// PlanForPrice finds the enabled plan sold under a provider price ID.
func (c *Config) PlanForPrice(priceID string) (string, Plan, bool) {
	if priceID == "" {
		return "", Plan{}, false
	}
	for key, p := range c.Plans {
		if p.Enabled && p.ProviderPriceID == priceID {
			return key, p, true
		}
	}
	return "", Plan{}, false
}

// PackForPrice finds the credit pack sold under a provider price ID.
func (c *Config) PackForPrice(priceID string) (CreditPack, bool) {
	if priceID == "" {
		return CreditPack{}, false
	}
	for _, p := range c.CreditPacks {
		if p.ProviderPriceID == priceID {
			return p, true
		}
	}
	return CreditPack{}, false
}

// Validate checks the catalog for values the ledger cannot honor.
func (c *Config) Validate() error {
	for _, op := range Operations() {
		cost, _ := c.Costs.Of(op)
		if cost <= 0 {
			return fmt.Errorf("%w: cost of %s must be positive", ErrInvalid, op)
		}
	}
	for key, p := range c.Plans {
		if p.MonthlyCredits <= 0 {
			return fmt.Errorf("%w: plan %s: monthly credits must be positive", ErrInvalid, key)
		}
	}
	for i, p := range c.CreditPacks {
		if p.Credits <= 0 {
			return fmt.Errorf("%w: credit pack %d: credits must be positive", ErrInvalid, i)
		}
	}
	if c.Trial.MaxGenerations < 0 {
		return fmt.Errorf("%w: trial max generations must not be negative", ErrInvalid)
	}
	return nil
}
