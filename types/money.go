// Package types provides common value types used across the credit ledger.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a price in the smallest currency unit.
// Credits are integers; Money only describes what they cost.
//
// Examples:
//   - EUR(500) = €5.00
//   - USD(1000) = $10.00
type Money struct {
	Amount   int64  `json:"amount"   toml:"amount"   bson:"amount"`
	Currency string `json:"currency" toml:"currency" bson:"currency"`
}

// EUR creates a Money value in euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// USD creates a Money value in US dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// GBP creates a Money value in British pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Currency: strings.ToLower(currency)} }

// ParseMoney parses a major-unit amount such as "5.00" or "19.9" in the given
// currency. Fractions finer than the currency's minor unit are rejected.
func ParseMoney(major, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", major, err)
	}

	places := int32(currencyDecimals(currency))
	minor := d.Shift(places)
	if !minor.Equal(minor.Truncate(0)) {
		return Money{}, fmt.Errorf("money: %q has more than %d decimal places", major, places)
	}

	return Money{Amount: minor.IntPart(), Currency: strings.ToLower(currency)}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// FormatMajor returns the major unit string without currency symbol,
// e.g. "5.00" for EUR(500).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
// Examples: "€5.00", "$10.00", "¥100"
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToLower(raw.Currency)
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy":
		return "¥"
	default:
		return strings.ToUpper(currency) + " "
	}
}

// currencyDecimals returns the number of minor-unit digits for a currency.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp":
		return 0
	default:
		return 2
	}
}
