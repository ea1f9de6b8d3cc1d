package memory_test

import (
	"context"
	"errors"
	"testing"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/storetest"
	"github.com/xraph/credits/transaction"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store {
		return memory.New()
	})
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := credits.New(s)
	if _, err := l.OpenAccount(ctx, "acct", 1, nil); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Ping(ctx); !errors.Is(err, credits.ErrStoreClosed) {
		t.Errorf("Ping: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.GetAccount(ctx, "acct"); !errors.Is(err, credits.ErrStoreClosed) {
		t.Errorf("GetAccount: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.Apply(ctx, "acct", func(int64) (*transaction.Transaction, error) {
		t.Error("fn must not run on a closed store")
		return nil, nil
	}); !errors.Is(err, credits.ErrStoreClosed) {
		t.Errorf("Apply: expected ErrStoreClosed, got %v", err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := credits.New(s)
	if _, err := l.OpenAccount(ctx, "acct", 5, map[string]string{"tier": "free"}); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	a, _ := s.GetAccount(ctx, "acct")
	a.Balance = 1000
	a.Metadata["tier"] = "pro"

	again, _ := s.GetAccount(ctx, "acct")
	if again.Balance != 5 || again.Metadata["tier"] != "free" {
		t.Errorf("store state leaked through returned account: %+v", again)
	}

	txs, _ := s.ListTransactions(ctx, "acct", transaction.ListOpts{})
	txs[0].Amount = 99
	txs, _ = s.ListTransactions(ctx, "acct", transaction.ListOpts{})
	if txs[0].Amount != 5 {
		t.Errorf("store state leaked through returned transaction: %+v", txs[0])
	}
}

func TestListTransactionsClampsNegativeOffset(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := credits.New(s)
	if _, err := l.OpenAccount(ctx, "acct", 5, nil); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	txs, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{Offset: -3, Limit: -1})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}
}
