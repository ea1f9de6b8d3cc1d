// Package store defines the persistence contract for the credit ledger.
package store

import (
	"context"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
)

// ApplyFunc computes the transaction to commit from the balance read inside
// the store's atomic unit. Returning an error aborts without writing.
type ApplyFunc func(balance int64) (*transaction.Transaction, error)

// Store is the unified storage interface for the credit ledger.
//
// Apply is the only way a balance changes. Implementations must, as one
// serializable unit per account: read the balance, call fn, and when fn
// succeeds persist tx.BalanceAfter and append tx, committing both or
// neither. Apply assigns tx.CreatedAt. A non-empty CorrelationID that
// already exists for the account yields credits.ErrDuplicateTransaction.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, accountID string) (*account.Account, error)
	SetSubscription(ctx context.Context, accountID string, sub account.Subscription) error
	FindAccountBySubscription(ctx context.Context, subscriptionRef string) (*account.Account, error)

	// Ledger methods
	Apply(ctx context.Context, accountID string, fn ApplyFunc) (*transaction.Transaction, error)
	GetTransaction(ctx context.Context, accountID string, txID id.TransactionID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Catalog methods
	LoadCatalog(ctx context.Context) (*catalog.Config, error)
	SaveCatalog(ctx context.Context, cfg *catalog.Config) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
