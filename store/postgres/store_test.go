package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/postgres"
	"github.com/xraph/credits/store/storetest"
)

// newStore connects to CREDITS_POSTGRES_DSN, skipping when it is unset.
// Each call starts from empty tables.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	_ = godotenv.Load("../../.env") //nolint:errcheck // the file is optional

	dsn := os.Getenv("CREDITS_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CREDITS_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pgdriver.Unwrap(s.DB()).NewRaw(
		`TRUNCATE credits_transactions, credits_accounts, credits_catalog`).Exec(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
