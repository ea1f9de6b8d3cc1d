// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AccountLifecycle", testAccountLifecycle},
		{"ApplyCommitsBalanceAndTransaction", testApplyCommits},
		{"ApplyFuncErrorWritesNothing", testApplyFuncError},
		{"ApplyUnknownAccount", testApplyUnknownAccount},
		{"DuplicateCorrelation", testDuplicateCorrelation},
		{"InsufficientDeduct", testInsufficientDeduct},
		{"DeductRefundScenario", testDeductRefundScenario},
		{"GrantAccumulation", testGrantAccumulation},
		{"ConcurrentDeducts", testConcurrentDeducts},
		{"RefundOfIsIdempotent", testRefundOf},
		{"SetBalance", testSetBalance},
		{"ListTransactions", testListTransactions},
		{"ListTransactionsPaging", testListTransactionsPaging},
		{"Subscriptions", testSubscriptions},
		{"Catalog", testCatalog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Registered first so it runs after the factory's own cleanups.
			var s store.Store
			t.Cleanup(func() {
				if s != nil {
					_ = s.Close()
				}
			})
			s = newStore(t)
			tt.fn(t, s)
		})
	}
}

func open(t *testing.T, l *credits.Ledger, accountID string, balance int64) {
	t.Helper()
	if _, err := l.OpenAccount(context.Background(), accountID, balance, nil); err != nil {
		t.Fatalf("OpenAccount(%s): %v", accountID, err)
	}
}

func balance(t *testing.T, l *credits.Ledger, accountID string) int64 {
	t.Helper()
	b, err := l.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetBalance(%s): %v", accountID, err)
	}
	return b
}

func testAccountLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := &account.Account{
		Entity:   types.NewEntity(),
		ID:       "acct-1",
		Metadata: map[string]string{"email": "a@example.com"},
	}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateAccount(ctx, a); !errors.Is(err, credits.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	got, err := s.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 0 {
		t.Errorf("balance: got %d, want 0", got.Balance)
	}
	if got.Metadata["email"] != "a@example.com" {
		t.Errorf("metadata: got %v", got.Metadata)
	}

	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func testApplyCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 5)

	res, err := l.Grant(ctx, credits.GrantRequest{
		AccountID: "acct",
		Amount:    7,
		Type:      transaction.TypePurchase,
		Operation: "pack_200",
		Metadata:  map[string]string{"price_id": "price_1"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}

	got, err := s.GetTransaction(ctx, "acct", res.Transaction.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Amount != 7 || got.BalanceBefore != 5 || got.BalanceAfter != 12 {
		t.Errorf("unexpected transaction: %+v", got)
	}
	if got.Type != transaction.TypePurchase || got.Operation != "pack_200" {
		t.Errorf("unexpected type/operation: %q/%q", got.Type, got.Operation)
	}
	if got.Metadata["price_id"] != "price_1" {
		t.Errorf("metadata: got %v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
	if b := balance(t, l, "acct"); b != 12 {
		t.Errorf("balance: got %d, want 12", b)
	}
}

func testApplyFuncError(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 3)

	boom := errors.New("boom")
	_, err := s.Apply(ctx, "acct", func(int64) (*transaction.Transaction, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned unchanged, got %v", err)
	}

	if b := balance(t, l, "acct"); b != 3 {
		t.Errorf("balance: got %d, want 3", b)
	}
	txs, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected only the opening grant, got %d transactions", len(txs))
	}
}

func testApplyUnknownAccount(t *testing.T, s store.Store) {
	called := false
	_, err := s.Apply(context.Background(), "ghost", func(int64) (*transaction.Transaction, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, credits.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if called {
		t.Error("fn must not run for a missing account")
	}
}

func testDuplicateCorrelation(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "a", 0)
	open(t, l, "b", 0)

	req := credits.GrantRequest{AccountID: "a", Amount: 100, Type: transaction.TypeSubscription, CorrelationID: "evt:42"}
	if _, err := l.Grant(ctx, req); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := l.Grant(ctx, req); !errors.Is(err, credits.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if b := balance(t, l, "a"); b != 100 {
		t.Errorf("balance after duplicate: got %d, want 100", b)
	}

	// Correlation IDs are scoped per account.
	req.AccountID = "b"
	if _, err := l.Grant(ctx, req); err != nil {
		t.Fatalf("Grant on second account: %v", err)
	}
}

func testInsufficientDeduct(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 2)

	_, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 5, Operation: "grid4x4"})
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if b := balance(t, l, "acct"); b != 2 {
		t.Errorf("balance: got %d, want 2", b)
	}

	deducts, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{Type: transaction.TypeDeduct})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(deducts) != 0 {
		t.Errorf("expected no deduct transactions, got %d", len(deducts))
	}
}

func testDeductRefundScenario(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 10)

	charge, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 3, Operation: "grid3x3"})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if charge.NewBalance != 7 {
		t.Fatalf("balance after deduct: got %d, want 7", charge.NewBalance)
	}

	refund, err := l.Refund(ctx, credits.RefundRequest{
		AccountID: "acct",
		Amount:    3,
		Operation: "grid3x3",
		Reason:    "generation failed",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.NewBalance != 10 {
		t.Fatalf("balance after refund: got %d, want 10", refund.NewBalance)
	}

	txs, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].Type != transaction.TypeRefund || txs[1].Type != transaction.TypeDeduct {
		t.Errorf("unexpected order: %q, %q", txs[0].Type, txs[1].Type)
	}
	for _, tx := range txs {
		if !tx.Consistent() {
			t.Errorf("inconsistent transaction: %+v", tx)
		}
	}
	if txs[0].Metadata[credits.MetaReason] != "generation failed" {
		t.Errorf("reason: got %v", txs[0].Metadata)
	}
}

func testGrantAccumulation(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 0)

	if _, err := l.Grant(ctx, credits.GrantRequest{AccountID: "acct", Amount: 100, Type: transaction.TypeSubscription}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	for i := range 100 {
		if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 1}); err != nil {
			t.Fatalf("Deduct %d: %v", i+1, err)
		}
	}
	if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 1}); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits on deduct 101, got %v", err)
	}
	if b := balance(t, l, "acct"); b != 0 {
		t.Errorf("balance: got %d, want 0", b)
	}
}

func testConcurrentDeducts(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 10)

	const workers = 25
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		failures  = make(chan error, workers)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 1, Operation: "edit"})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, credits.ErrInsufficientCredits), credits.IsRetryable(err):
			default:
				failures <- err
			}
		}()
	}
	wg.Wait()
	close(failures)

	for err := range failures {
		t.Errorf("unexpected error: %v", err)
	}

	b := balance(t, l, "acct")
	if b < 0 {
		t.Fatalf("balance went negative: %d", b)
	}
	if got := 10 - succeeded.Load(); got != b {
		t.Errorf("balance %d does not match %d successful deductions", b, succeeded.Load())
	}

	deducts, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{Type: transaction.TypeDeduct})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if int64(len(deducts)) != succeeded.Load() {
		t.Errorf("expected %d deduct transactions, got %d", succeeded.Load(), len(deducts))
	}
}

func testRefundOf(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 10)

	charge, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 4})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	req := credits.RefundRequest{AccountID: "acct", Amount: 4, Reason: "timeout", RefundOf: charge.Transaction.ID}
	if _, err := l.Refund(ctx, req); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if _, err := l.Refund(ctx, req); !errors.Is(err, credits.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if b := balance(t, l, "acct"); b != 10 {
		t.Errorf("balance: got %d, want 10", b)
	}
}

func testSetBalance(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 3)

	res, err := l.SetBalance(ctx, "acct", 50, "goodwill")
	if err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if res.NewBalance != 50 || res.Transaction.Amount != 47 {
		t.Errorf("unexpected result: %+v", res.Transaction)
	}

	txs, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Operation != credits.OperationAdminAdjustment {
		t.Fatalf("expected admin adjustment first, got %+v", txs)
	}
	if txs[0].Metadata[credits.MetaReason] != "goodwill" {
		t.Errorf("reason: got %v", txs[0].Metadata)
	}
}

func testListTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 0)

	for i := range 5 {
		if _, err := l.Grant(ctx, credits.GrantRequest{
			AccountID: "acct",
			Amount:    int64(i + 1),
			Type:      transaction.TypeGrant,
			Operation: fmt.Sprintf("op-%d", i),
		}); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	}
	if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "acct", Amount: 1}); err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	all, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 transactions, got %d", len(all))
	}
	if all[0].Type != transaction.TypeDeduct || all[5].Operation != "op-0" {
		t.Errorf("expected newest first, got %q ... %q", all[0].Type, all[5].Operation)
	}

	page, err := s.ListTransactions(ctx, "acct", transaction.ListOpts{Type: transaction.TypeGrant, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListTransactions page: %v", err)
	}
	if len(page) != 2 || page[0].Operation != "op-3" || page[1].Operation != "op-2" {
		t.Errorf("unexpected page: %+v", page)
	}

	empty, err := s.ListTransactions(ctx, "other", transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions other: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no transactions, got %d", len(empty))
	}
}

func testListTransactionsPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 0)

	for i := range 3 {
		if _, err := l.Grant(ctx, credits.GrantRequest{
			AccountID: "acct",
			Amount:    1,
			Type:      transaction.TypeGrant,
			Operation: fmt.Sprintf("op-%d", i),
		}); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	}

	for _, opts := range []transaction.ListOpts{
		{Offset: -1},
		{Limit: -1},
		{Limit: 2, Offset: -5},
	} {
		var verr credits.ValidationError
		if _, err := l.Transactions(ctx, "acct", opts); !errors.As(err, &verr) || !errors.Is(err, credits.ErrInvalidInput) {
			t.Errorf("Transactions(%+v): expected ValidationError, got %v", opts, err)
		}
	}

	tests := []struct {
		name  string
		opts  transaction.ListOpts
		first string
		want  int
	}{
		{"OffsetWithoutLimit", transaction.ListOpts{Offset: 1}, "op-1", 2},
		{"OffsetAtEnd", transaction.ListOpts{Offset: 3}, "", 0},
		{"OffsetPastEnd", transaction.ListOpts{Offset: 10, Limit: 2}, "", 0},
		{"LimitLargerThanRows", transaction.ListOpts{Limit: 50}, "op-2", 3},
	}
	for _, tt := range tests {
		got, err := l.Transactions(ctx, "acct", tt.opts)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: expected %d transactions, got %d", tt.name, tt.want, len(got))
			continue
		}
		if tt.want > 0 && got[0].Operation != tt.first {
			t.Errorf("%s: expected first %q, got %q", tt.name, tt.first, got[0].Operation)
		}
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := credits.New(s)
	open(t, l, "acct", 0)

	sub := account.Subscription{
		Ref:         "sub_123",
		CustomerRef: "cus_9",
		PlanKey:     "creator",
		Status:      account.SubscriptionActive,
	}
	if err := s.SetSubscription(ctx, "acct", sub); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}

	a, err := s.FindAccountBySubscription(ctx, "sub_123")
	if err != nil {
		t.Fatalf("FindAccountBySubscription: %v", err)
	}
	if a.ID != "acct" || a.Subscription != sub || !a.Subscription.IsPro() {
		t.Errorf("unexpected account: %+v", a)
	}

	if _, err := s.FindAccountBySubscription(ctx, "sub_missing"); !errors.Is(err, credits.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.SetSubscription(ctx, "ghost", sub); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.LoadCatalog(ctx); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound on empty store, got %v", err)
	}

	cfg := catalog.Default()
	cfg.Costs.Grid4x4 = 5
	cfg.Plans["studio"] = catalog.Plan{MonthlyCredits: 400, Price: types.EUR(1500), ProviderPriceID: "price_studio", Enabled: true}
	if err := s.SaveCatalog(ctx, cfg); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}

	got, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got.Costs.Grid4x4 != 5 {
		t.Errorf("grid4x4 cost: got %d, want 5", got.Costs.Grid4x4)
	}
	if p, ok := got.Plans["studio"]; !ok || p.MonthlyCredits != 400 || !p.Price.Equal(types.EUR(1500)) {
		t.Errorf("studio plan: got %+v", p)
	}
	if len(got.CreditPacks) != len(cfg.CreditPacks) {
		t.Errorf("credit packs: got %d, want %d", len(got.CreditPacks), len(cfg.CreditPacks))
	}

	cfg.Costs.Grid4x4 = 6
	if err := s.SaveCatalog(ctx, cfg); err != nil {
		t.Fatalf("SaveCatalog overwrite: %v", err)
	}
	got, err = s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog after overwrite: %v", err)
	}
	if got.Costs.Grid4x4 != 6 {
		t.Errorf("grid4x4 cost after overwrite: got %d, want 6", got.Costs.Grid4x4)
	}
}
