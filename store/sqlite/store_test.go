package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/grove/drivers/sqlitedriver"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlite"
	"github.com/xraph/credits/store/storetest"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
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

	var n int
	err := sqlitedriver.Unwrap(s.DB()).
		NewRaw(`SELECT COUNT(*) FROM grove_migrations WHERE "group" = ?`, sqlite.Migrations.Name()).
		Scan(context.Background(), &n)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if want := len(sqlite.Migrations.Migrations()); n != want {
		t.Errorf("applied migrations: got %d, want %d", n, want)
	}
}

func TestBalanceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "credits.db")

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l := credits.New(s)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := l.OpenAccount(ctx, "acct", 9, nil); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 4}); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reopened, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	l = credits.New(reopened)
	b, err := l.GetBalance(ctx, "acct")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b != 5 {
		t.Errorf("balance after reopen: got %d, want 5", b)
	}
}
