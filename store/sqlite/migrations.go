package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the SQLite credit store.
// SQLite executes one statement per Exec, so multi-statement steps loop.
var Migrations = migrate.NewGroup("credits")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_credits_accounts",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS credits_accounts (
    id                   TEXT PRIMARY KEY,
    balance              INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    subscription_ref     TEXT NOT NULL DEFAULT '',
    customer_ref         TEXT NOT NULL DEFAULT '',
    plan_key             TEXT NOT NULL DEFAULT '',
    subscription_status  TEXT NOT NULL DEFAULT '',
    metadata             TEXT NOT NULL DEFAULT '{}',
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL
)`,
					`CREATE INDEX IF NOT EXISTS idx_credits_accounts_subscription
    ON credits_accounts (subscription_ref) WHERE subscription_ref <> ''`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_transactions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS credits_transactions (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    account_id      TEXT NOT NULL REFERENCES credits_accounts (id),
    amount          INTEGER NOT NULL,
    type            TEXT NOT NULL,
    operation       TEXT NOT NULL DEFAULT '',
    balance_before  INTEGER NOT NULL,
    balance_after   INTEGER NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    correlation_id  TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
)`,
					`CREATE INDEX IF NOT EXISTS idx_credits_transactions_account
    ON credits_transactions (account_id, seq)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_transactions_correlation
    ON credits_transactions (account_id, correlation_id) WHERE correlation_id <> ''`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_catalog",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_catalog (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    config      TEXT NOT NULL,
    updated_at  TEXT NOT NULL
)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_catalog`)
				return err
			},
		},
	)
}

func execAll(ctx context.Context, exec migrate.Executor, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
