// Package credits provides an atomic credit ledger for metered Go services.
//
// Credits is a library, not a service. A Ledger wraps a store.Store and
// exposes the only operations allowed to change a balance:
//
//   - Deduct spends credits, failing with ErrInsufficientCredits rather
//     than ever committing a negative balance
//   - Refund returns credits after failed work
//   - Grant adds purchased, subscription or manually granted credits
//   - SetBalance overwrites a balance for administrative correction
//
// Every mutation commits the new balance and an immutable
// transaction.Transaction in one atomic unit, so the audit log and the
// balance never diverge.
//
// # Quick Start
//
//	s := memory.New() // or sqlite.Open, postgres.Open, mongo.Open
//	l := credits.New(s, credits.WithLogger(slog.Default()))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	_, _ = l.OpenAccount(ctx, "user-1", 10, nil)
//	res, err := l.Deduct(ctx, credits.DeductRequest{
//	    AccountID: "user-1",
//	    Amount:    3,
//	    Operation: "grid3x3",
//	})
//	switch credits.CodeOf(err) {
//	case credits.CodeOK:
//	    fmt.Println("balance", res.NewBalance)
//	case credits.CodeInsufficientCredits:
//	    // ask the user to buy more
//	}
//
// # Charged work
//
// Expensive downstream work is wrapped by the charge package, which deducts
// once, retries the work with the retry package, classifies failures with
// the classify package and refunds at most once when the failure warrants
// it. Ledger calls themselves are never retried automatically.
package credits
