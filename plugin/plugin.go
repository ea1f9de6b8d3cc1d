// Package plugin provides an extensible plugin system for the credit ledger.
// Plugins hook into lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/credits/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionCommitted is called after any balance mutation commits.
type OnTransactionCommitted interface {
	Plugin
	OnTransactionCommitted(ctx context.Context, tx *transaction.Transaction) error
}

// OnDeducted is called after a deduction commits.
type OnDeducted interface {
	Plugin
	OnDeducted(ctx context.Context, tx *transaction.Transaction) error
}

// OnRefunded is called after a refund commits.
type OnRefunded interface {
	Plugin
	OnRefunded(ctx context.Context, tx *transaction.Transaction) error
}

// OnGranted is called after a purchase, subscription or grant commits.
type OnGranted interface {
	Plugin
	OnGranted(ctx context.Context, tx *transaction.Transaction) error
}

// OnBalanceSet is called after an administrative balance correction.
type OnBalanceSet interface {
	Plugin
	OnBalanceSet(ctx context.Context, tx *transaction.Transaction) error
}

// OnDeductRejected is called when a deduction fails for lack of credits.
type OnDeductRejected interface {
	Plugin
	OnDeductRejected(ctx context.Context, accountID, operation string, amount, balance int64) error
}

// ──────────────────────────────────────────────────
// Charge workflow hooks
// ──────────────────────────────────────────────────

// OnChargeSettled is called when charged work succeeds and the charge stands.
type OnChargeSettled interface {
	Plugin
	OnChargeSettled(ctx context.Context, accountID, operation string, cost int64, attempts int) error
}

// OnChargeReversed is called after a failed unit of work is refunded.
type OnChargeReversed interface {
	Plugin
	OnChargeReversed(ctx context.Context, accountID, operation string, amount int64, reason string) error
}

// OnErrorClassified is called whenever a downstream failure is classified.
type OnErrorClassified interface {
	Plugin
	OnErrorClassified(ctx context.Context, operation, kind string, reverseCharge bool, err error) error
}

// OnRetryAttempt is called before each retry sleep.
type OnRetryAttempt interface {
	Plugin
	OnRetryAttempt(ctx context.Context, operation string, attempt int, delay time.Duration, err error) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed is called after a billing provider event is handled.
type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, eventType, eventID string, err error) error
}
