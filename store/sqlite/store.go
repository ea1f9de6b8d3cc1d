// Package sqlite implements store.Store on SQLite via Grove ORM and the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
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

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite allows a single writer, so Open limits the pool to one connection:
// every Apply runs its read, check and write on that connection inside one
// driver transaction, which serializes mutations without lock upgrades.
// Everything outside Apply is a single statement on the pool.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// Open opens a SQLite database, e.g. "file:credits.db" or ":memory:".
func Open(ctx context.Context, dsn string, opts ...driver.Option) (*Store, error) {
	sdb := sqlitedriver.New()
	opts = append(opts, driver.WithPoolSize(1))
	if err := sdb.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("credits/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("credits/sqlite: open grove: %w", err)
	}
	return New(db), nil
}

// New creates a store on a grove database opened with sqlitedriver. The
// caller is responsible for limiting the pool to one connection.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/sqlite: migration failed: %w", err)
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
	m, err := toAccountModel(a)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create account: %w", err)
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return credits.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("credits/sqlite: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).Where("id = ?", accountID).Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: get account: %w", err)
	}
	return fromAccountModel(m)
}

func (s *Store) SetSubscription(ctx context.Context, accountID string, sub account.Subscription) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("subscription_ref = ?", sub.Ref).
		Set("customer_ref = ?", sub.CustomerRef).
		Set("plan_key = ?", sub.PlanKey).
		Set("subscription_status = ?", string(sub.Status)).
		Set("updated_at = ?", formatTime(now())).
		Where("id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/sqlite: set subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) FindAccountBySubscription(ctx context.Context, subscriptionRef string) (*account.Account, error) {
	if subscriptionRef == "" {
		return nil, credits.ErrSubscriptionNotFound
	}
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("subscription_ref = ?", subscriptionRef).
		Limit(1).
		Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: find account by subscription: %w", err)
	}
	return fromAccountModel(m)
}

// ==================== Ledger Store ====================

func (s *Store) Apply(ctx context.Context, accountID string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	current := new(accountModel)
	err = tx.NewSelect(current).Where("id = ?", accountID).Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: read balance: %w", err)
	}

	next, err := fn(current.Balance)
	if err != nil {
		return nil, err
	}

	stored := *next
	stored.AccountID = accountID
	stored.CreatedAt = now()

	res, err := tx.NewUpdate((*accountModel)(nil)).
		Set("balance = ?", stored.BalanceAfter).
		Set("updated_at = ?", formatTime(stored.CreatedAt)).
		Where("id = ?", accountID).
		Where("balance = ?", current.Balance).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 { //nolint:errcheck // sqlite always reports rows affected
		return nil, credits.ErrTransactionConflict
	}

	m, err := toTransactionModel(&stored)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: insert transaction: %w", err)
	}
	_, err = tx.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return nil, credits.ErrDuplicateTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("credits/sqlite: commit: %w", err)
	}
	return &stored, nil
}

func (s *Store) GetTransaction(ctx context.Context, accountID string, txID id.TransactionID) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Where("id = ?", txID.String()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID)
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}

	// SQLite rejects OFFSET without LIMIT.
	limit := opts.Limit
	if limit <= 0 && opts.Offset > 0 {
		limit = math.MaxInt32
	}
	q = q.OrderExpr("seq DESC").Limit(limit).Offset(opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/sqlite: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("credits/sqlite: decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Config, error) {
	m := new(catalogModel)
	err := s.sdb.NewSelect(m).Where("id = ?", catalogRowID).Scan(ctx)
	if isNoRows(err) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: load catalog: %w", err)
	}

	cfg := new(catalog.Config)
	if err := json.Unmarshal([]byte(m.Config), cfg); err != nil {
		return nil, fmt.Errorf("credits/sqlite: decode catalog: %w", err)
	}
	return cfg, nil
}

func (s *Store) SaveCatalog(ctx context.Context, cfg *catalog.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("credits/sqlite: encode catalog: %w", err)
	}

	m := &catalogModel{ID: catalogRowID, Config: string(raw), UpdatedAt: formatTime(now())}
	_, err = s.sdb.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("config = excluded.config").
		Set("updated_at = excluded.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/sqlite: save catalog: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel and grove's.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
