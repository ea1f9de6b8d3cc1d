// Package retry runs fallible operations with capped exponential backoff.
//
// The package decides when to wait and how long; whether a failure is worth
// another attempt is delegated to a caller-supplied predicate, typically
// classify.Classifier.Retryable.
package retry

import (
	"errors"
	"math"
	"time"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts  int           `json:"max_attempts"  mapstructure:"max_attempts"  yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"     mapstructure:"max_delay"     yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier"    mapstructure:"multiplier"    yaml:"multiplier"`
}

// Named profiles. Callers pick one per operation class.
var (
	// DefaultPolicy suits most downstream calls.
	DefaultPolicy = Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	// StorePolicy is for transient datastore errors.
	StorePolicy = Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}

	// NetworkPolicy is for remote network and inference calls.
	NetworkPolicy = Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
)

// Profile returns the named policy: "default", "store" or "network".
func Profile(name string) (Policy, bool) {
	switch name {
	case "", "default":
		return DefaultPolicy, true
	case "store":
		return StorePolicy, true
	case "network":
		return NetworkPolicy, true
	}
	return Policy{}, false
}

// Delay returns the wait after the given failed attempt (1-based):
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// MaxTotalDelay is the worst-case sleep across all attempts.
func (p Policy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// Validate reports a malformed policy.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry: max attempts must be at least 1")
	case p.InitialDelay < 0:
		return errors.New("retry: initial delay must not be negative")
	case p.MaxDelay < p.InitialDelay:
		return errors.New("retry: max delay must not be below initial delay")
	case p.Multiplier < 1:
		return errors.New("retry: multiplier must be at least 1")
	}
	return nil
}

// policyBackOff feeds Policy.Delay into backoff.Retry.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt)
}

func (b *policyBackOff) Reset() { b.attempt = 0 }
