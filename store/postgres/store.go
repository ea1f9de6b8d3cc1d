// Package postgres implements store.Store on PostgreSQL via Grove ORM.
//
// Apply locks the account row with SELECT ... FOR UPDATE inside a driver
// transaction, so concurrent mutations of one account queue behind each
// other while other accounts proceed in parallel. Every other operation is
// a single statement and runs on the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// PostgreSQL error codes the store maps to ledger errors.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// Open connects a pgdriver pool to dsn and wraps it in a grove database.
func Open(ctx context.Context, dsn string, opts ...driver.Option) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("credits/postgres: connect: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("credits/postgres: open grove: %w", err)
	}
	return New(db), nil
}

// New creates a store on a grove database opened with pgdriver.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("credits/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.pg.NewInsert(toAccountModel(a)).Exec(ctx)
	if pgCode(err) == codeUniqueViolation {
		return credits.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("credits/postgres: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).Where("id = $1", accountID).Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: get account: %w", err)
	}
	return fromAccountModel(m), nil
}

func (s *Store) SetSubscription(ctx context.Context, accountID string, sub account.Subscription) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("subscription_ref = $1", sub.Ref).
		Set("customer_ref = $2", sub.CustomerRef).
		Set("plan_key = $3", sub.PlanKey).
		Set("subscription_status = $4", string(sub.Status)).
		Set("updated_at = $5", now()).
		Where("id = $6", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/postgres: set subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // pgx always reports rows affected
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) FindAccountBySubscription(ctx context.Context, subscriptionRef string) (*account.Account, error) {
	if subscriptionRef == "" {
		return nil, credits.ErrSubscriptionNotFound
	}
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("subscription_ref = $1", subscriptionRef).
		Limit(1).
		Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: find account by subscription: %w", err)
	}
	return fromAccountModel(m), nil
}

// ==================== Ledger Store ====================

func (s *Store) Apply(ctx context.Context, accountID string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	result, err := s.apply(ctx, accountID, fn)
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return nil, fmt.Errorf("credits/postgres: apply: %w: %w", credits.ErrTransactionConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) apply(ctx context.Context, accountID string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	locked := new(accountModel)
	err = tx.NewSelect(locked).
		Where("id = $1", accountID).
		ForUpdate().
		Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: lock account: %w", err)
	}

	next, err := fn(locked.Balance)
	if err != nil {
		return nil, err
	}

	stored := *next
	stored.AccountID = accountID
	stored.CreatedAt = now()

	if _, err := tx.NewUpdate((*accountModel)(nil)).
		Set("balance = $1", stored.BalanceAfter).
		Set("updated_at = $2", stored.CreatedAt).
		Where("id = $3", accountID).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("credits/postgres: update balance: %w", err)
	}

	if _, err := tx.NewInsert(toTransactionModel(&stored)).Exec(ctx); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, credits.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("credits/postgres: insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("credits/postgres: commit: %w", err)
	}
	return &stored, nil
}

func (s *Store) GetTransaction(ctx context.Context, accountID string, txID id.TransactionID) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
		Where("id = $2", txID.String()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID)
	if opts.Type != "" {
		q = q.Where("type = $2", string(opts.Type))
	}
	// Limit and Offset are only emitted when positive.
	q = q.OrderExpr("seq DESC").Limit(opts.Limit).Offset(opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/postgres: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("credits/postgres: decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Config, error) {
	m := new(catalogModel)
	err := s.pg.NewSelect(m).Where("id = $1", catalogRowID).Scan(ctx)
	if isNoRows(err) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: load catalog: %w", err)
	}
	cfg := new(catalog.Config)
	if err := json.Unmarshal(m.Config, cfg); err != nil {
		return nil, fmt.Errorf("credits/postgres: decode catalog: %w", err)
	}
	return cfg, nil
}

func (s *Store) SaveCatalog(ctx context.Context, cfg *catalog.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("credits/postgres: encode catalog: %w", err)
	}
	m := &catalogModel{ID: catalogRowID, Config: raw, UpdatedAt: now()}
	_, err = s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("config = EXCLUDED.config").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/postgres: save catalog: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for pgx's no-rows sentinel and grove's.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

// pgCode returns the SQLSTATE of a PostgreSQL error in err's chain, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
