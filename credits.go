package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Operation labels written by the ledger itself.
const (
	OperationAccountOpened   = "account_opened"
	OperationAdminAdjustment = "admin_adjustment"
)

// Metadata keys written by the ledger itself.
const (
	MetaReason   = "reason"
	MetaRefundOf = "refund_of"
)

// Ledger performs atomic credit mutations against a store.Store and records
// an immutable transaction for every one of them. It holds no per-account
// state and is safe for concurrent use.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)
	l.logger.Info("credit ledger started", "plugins", l.plugins.Count())
	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	l.plugins.EmitShutdown(context.Background())
	return l.store.Close()
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Logger returns the ledger's logger.
func (l *Ledger) Logger() *slog.Logger { return l.logger }

// ──────────────────────────────────────────────────
// Requests and results
// ──────────────────────────────────────────────────

// Result is the outcome of a successful mutation.
type Result struct {
	NewBalance  int64                    `json:"new_balance"`
	Transaction *transaction.Transaction `json:"transaction"`
}

// DeductRequest asks to spend credits.
type DeductRequest struct {
	AccountID string
	Amount    int64
	Operation string
	Metadata  map[string]string
}

// RefundRequest asks to return previously spent credits.
//
// RefundOf optionally names the deduct transaction being reversed. When set,
// the ledger checks it belongs to the account, caps the amount at the
// deducted amount, and rejects a second refund of the same deduction with
// ErrDuplicateTransaction. Without it, refunds are not idempotent.
type RefundRequest struct {
	AccountID string
	Amount    int64
	Operation string
	Reason    string
	Metadata  map[string]string
	RefundOf  id.TransactionID
}

// GrantRequest adds credits from a purchase, subscription or manual grant.
// A non-empty CorrelationID makes the grant idempotent per account.
type GrantRequest struct {
	AccountID     string
	Amount        int64
	Type          transaction.Type
	Operation     string
	Metadata      map[string]string
	CorrelationID string
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// OpenAccount provisions an account and records its initial grant, if any.
func (l *Ledger) OpenAccount(ctx context.Context, accountID string, initialGrant int64, metadata map[string]string) (*account.Account, error) {
	if accountID == "" {
		return nil, ValidationError{Field: "account_id", Message: "is required"}
	}
	if initialGrant < 0 {
		return nil, ValidationError{Field: "initial_grant", Message: "must not be negative"}
	}

	a := &account.Account{
		Entity:   types.NewEntity(),
		ID:       accountID,
		Metadata: metadata,
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		return nil, l.storeError("open account", err)
	}

	if initialGrant > 0 {
		res, err := l.Grant(ctx, GrantRequest{
			AccountID: accountID,
			Amount:    initialGrant,
			Type:      transaction.TypeGrant,
			Operation: OperationAccountOpened,
		})
		if err != nil {
			return nil, err
		}
		a.Balance = res.NewBalance
	}

	l.logger.Info("account opened",
		"account_id", accountID,
		"initial_grant", initialGrant,
	)
	return a, nil
}

// Account returns the account record.
func (l *Ledger) Account(ctx context.Context, accountID string) (*account.Account, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, l.storeError("get account", err)
	}
	return a, nil
}

// GetBalance returns the last committed balance. It is for display only:
// Deduct always re-reads the balance inside its own atomic unit.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	a, err := l.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Transactions lists an account's transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if opts.Limit < 0 {
		return nil, ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if opts.Offset < 0 {
		return nil, ValidationError{Field: "offset", Message: "must not be negative"}
	}
	txs, err := l.store.ListTransactions(ctx, accountID, opts)
	if err != nil {
		return nil, l.storeError("list transactions", err)
	}
	return txs, nil
}

// SetSubscription records the billing subscription linked to an account.
// It does not touch the balance.
func (l *Ledger) SetSubscription(ctx context.Context, accountID string, sub account.Subscription) error {
	if accountID == "" {
		return ValidationError{Field: "account_id", Message: "is required"}
	}
	if err := l.store.SetSubscription(ctx, accountID, sub); err != nil {
		return l.storeError("set subscription", err)
	}

	l.logger.Info("subscription updated",
		"account_id", accountID,
		"subscription_ref", sub.Ref,
		"plan", sub.PlanKey,
		"status", string(sub.Status),
	)
	return nil
}

// AccountBySubscription finds the account linked to a billing subscription.
func (l *Ledger) AccountBySubscription(ctx context.Context, subscriptionRef string) (*account.Account, error) {
	a, err := l.store.FindAccountBySubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, l.storeError("find subscription", err)
	}
	return a, nil
}

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

// Deduct spends credits. It fails with ErrInsufficientCredits, writing
// nothing, when the balance read inside the atomic unit is below Amount.
func (l *Ledger) Deduct(ctx context.Context, req DeductRequest) (*Result, error) {
	if err := validateMutation(req.AccountID, req.Amount); err != nil {
		return nil, err
	}

	var rejectedAt int64
	tx, err := l.store.Apply(ctx, req.AccountID, func(balance int64) (*transaction.Transaction, error) {
		if balance < req.Amount {
			rejectedAt = balance
			return nil, ErrInsufficientCredits
		}
		return &transaction.Transaction{
			ID:            id.NewTransactionID(),
			AccountID:     req.AccountID,
			Amount:        -req.Amount,
			Type:          transaction.TypeDeduct,
			Operation:     req.Operation,
			BalanceBefore: balance,
			BalanceAfter:  balance - req.Amount,
			Metadata:      maps.Clone(req.Metadata),
		}, nil
	})
	if errors.Is(err, ErrInsufficientCredits) {
		l.logger.Warn("deduction rejected",
			"account_id", req.AccountID,
			"operation", req.Operation,
			"amount", req.Amount,
			"balance", rejectedAt,
		)
		l.plugins.EmitDeductRejected(ctx, req.AccountID, req.Operation, req.Amount, rejectedAt)
		return nil, fmt.Errorf("deduct %d from %s: %w", req.Amount, req.AccountID, ErrInsufficientCredits)
	}
	if err != nil {
		return nil, l.storeError("deduct", err)
	}

	return l.committed(ctx, tx, false), nil
}

// Refund returns credits after a failed unit of work. See RefundRequest for
// the idempotency contract.
func (l *Ledger) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if err := validateMutation(req.AccountID, req.Amount); err != nil {
		return nil, err
	}

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta[MetaReason] = req.Reason

	var correlation string
	if !req.RefundOf.IsNil() {
		original, err := l.store.GetTransaction(ctx, req.AccountID, req.RefundOf)
		if err != nil {
			return nil, l.storeError("refund lookup", err)
		}
		if original.Type != transaction.TypeDeduct {
			return nil, ValidationError{Field: "refund_of", Message: "must reference a deduct transaction"}
		}
		if req.Amount > -original.Amount {
			return nil, ValidationError{Field: "amount", Message: "must not exceed the deducted amount"}
		}
		correlation = "refund:" + req.RefundOf.String()
		meta[MetaRefundOf] = req.RefundOf.String()
	}

	tx, err := l.store.Apply(ctx, req.AccountID, func(balance int64) (*transaction.Transaction, error) {
		return &transaction.Transaction{
			ID:            id.NewTransactionID(),
			AccountID:     req.AccountID,
			Amount:        req.Amount,
			Type:          transaction.TypeRefund,
			Operation:     req.Operation,
			BalanceBefore: balance,
			BalanceAfter:  balance + req.Amount,
			Metadata:      meta,
			CorrelationID: correlation,
		}, nil
	})
	if err != nil {
		return nil, l.storeError("refund", err)
	}

	return l.committed(ctx, tx, false), nil
}

// Grant adds credits. Type must be purchase, subscription or grant.
func (l *Ledger) Grant(ctx context.Context, req GrantRequest) (*Result, error) {
	if err := validateMutation(req.AccountID, req.Amount); err != nil {
		return nil, err
	}
	if !req.Type.IsGrantType() {
		return nil, fmt.Errorf("grant type %q: %w", req.Type, ErrInvalidType)
	}

	tx, err := l.store.Apply(ctx, req.AccountID, func(balance int64) (*transaction.Transaction, error) {
		return &transaction.Transaction{
			ID:            id.NewTransactionID(),
			AccountID:     req.AccountID,
			Amount:        req.Amount,
			Type:          req.Type,
			Operation:     req.Operation,
			BalanceBefore: balance,
			BalanceAfter:  balance + req.Amount,
			Metadata:      maps.Clone(req.Metadata),
			CorrelationID: req.CorrelationID,
		}, nil
	})
	if err != nil {
		return nil, l.storeError("grant", err)
	}

	return l.committed(ctx, tx, false), nil
}

// SetBalance overwrites the balance for manual correction. The delta is
// logged as a grant with operation "admin_adjustment"; no sufficiency check
// applies.
func (l *Ledger) SetBalance(ctx context.Context, accountID string, newBalance int64, reason string) (*Result, error) {
	if accountID == "" {
		return nil, ValidationError{Field: "account_id", Message: "is required"}
	}
	if newBalance < 0 {
		return nil, ValidationError{Field: "new_balance", Message: "must not be negative"}
	}

	tx, err := l.store.Apply(ctx, accountID, func(balance int64) (*transaction.Transaction, error) {
		return &transaction.Transaction{
			ID:            id.NewTransactionID(),
			AccountID:     accountID,
			Amount:        newBalance - balance,
			Type:          transaction.TypeGrant,
			Operation:     OperationAdminAdjustment,
			BalanceBefore: balance,
			BalanceAfter:  newBalance,
			Metadata:      map[string]string{MetaReason: reason},
		}, nil
	})
	if err != nil {
		return nil, l.storeError("set balance", err)
	}

	return l.committed(ctx, tx, true), nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (l *Ledger) committed(ctx context.Context, tx *transaction.Transaction, admin bool) *Result {
	l.logger.Info("credits "+string(tx.Type),
		"account_id", tx.AccountID,
		"operation", tx.Operation,
		"amount", tx.Amount,
		"new_balance", tx.BalanceAfter,
		"transaction_id", tx.ID.String(),
	)
	l.plugins.EmitCommitted(ctx, tx, admin)

	return &Result{NewBalance: tx.BalanceAfter, Transaction: tx}
}

// storeError passes known ledger errors through and wraps anything else as
// ErrTransactionFailed, keeping the cause in the chain.
func (l *Ledger) storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrTransactionFailed):
		return err
	case errors.Is(err, ErrTransactionConflict):
		return fmt.Errorf("%s: %w", op, err)
	}

	l.logger.Error("credit store failure",
		"op", op,
		"error", err,
	)
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionFailed, err)
}

func validateMutation(accountID string, amount int64) error {
	if accountID == "" {
		return ValidationError{Field: "account_id", Message: "is required"}
	}
	if amount <= 0 {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}
