// Package charge runs paid work against the ledger: deduct once, attempt the
// work with retries, and refund at most once when the failure calls for it.
//
// Ledger calls are never retried here. Only the work function is.
package charge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/classify"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/retry"
	"github.com/xraph/credits/transaction"
)

// MetaChargeID links the deduct and refund of one charge.
const MetaChargeID = "charge_id"

// ErrRefundFailed reports work that failed and whose charge could not be
// reversed. The deduct transaction in the Outcome identifies the charge for
// manual follow-up.
var ErrRefundFailed = errors.New("charge: refund failed")

// Runner executes charged work. It holds no per-charge state and is safe for
// concurrent use.
type Runner struct {
	ledger     *credits.Ledger
	classifier *classify.Classifier
	policy     retry.Policy
	catalog    *catalog.Cache
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithClassifier sets the failure classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(r *Runner) { r.classifier = c }
}

// WithPolicy sets the retry policy applied to the work function.
func WithPolicy(p retry.Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithCatalog resolves operation costs for requests that leave Cost unset.
func WithCatalog(c *catalog.Cache) Option {
	return func(r *Runner) { r.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner over l. Defaults: a fresh classifier, the
// network retry profile and the ledger's logger.
func NewRunner(l *credits.Ledger, opts ...Option) *Runner {
	r := &Runner{
		ledger: l,
		policy: retry.NetworkPolicy,
		logger: l.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.classifier == nil {
		r.classifier = classify.New(classify.WithLogger(r.logger))
	}
	return r
}

// Request describes one unit of charged work.
type Request struct {
	AccountID string
	Operation string
	// Cost in credits. Zero means look it up in the catalog by Operation.
	Cost     int64
	Metadata map[string]string
}

// Outcome reports what happened to a charge. Charge is set whenever the
// deduction committed; Refund only when it was reversed.
type Outcome[T any] struct {
	ID             id.ChargeID
	Value          T
	Balance        int64
	Charge         *transaction.Transaction
	Refund         *transaction.Transaction
	Classification *classify.Result
	Attempts       int
}

// Refunded reports whether the charge was reversed.
func (o *Outcome[T]) Refunded() bool { return o.Refund != nil }

// CostOf returns the catalog price of op.
func (r *Runner) CostOf(ctx context.Context, op catalog.Operation) (int64, error) {
	cfg := catalog.Default()
	if r.catalog != nil {
		cfg = r.catalog.Get(ctx)
	}
	return cfg.Cost(op)
}

// Run deducts req.Cost, runs work under the Runner's retry policy, and on
// failure refunds the charge exactly once if the classified failure warrants
// it. The returned error is the ledger error when the deduction fails, and
// the work's last error otherwise; the Outcome is nil only when nothing was
// charged.
func Run[T any](ctx context.Context, r *Runner, req Request, work retry.Operation[T]) (*Outcome[T], error) {
	cost := req.Cost
	if cost == 0 && req.Operation != "" {
		c, err := r.CostOf(ctx, catalog.Operation(req.Operation))
		if err != nil {
			return nil, credits.ValidationError{Field: "operation", Message: err.Error()}
		}
		cost = c
	}

	out := &Outcome[T]{ID: id.NewChargeID()}
	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[MetaChargeID] = out.ID.String()

	charged, err := r.ledger.Deduct(ctx, credits.DeductRequest{
		AccountID: req.AccountID,
		Amount:    cost,
		Operation: req.Operation,
		Metadata:  meta,
	})
	if err != nil {
		return nil, err
	}
	out.Charge = charged.Transaction
	out.Balance = charged.NewBalance

	plugins := r.ledger.Plugins()

	// A panicking work function still gets its charge reversed before the
	// panic continues up the stack.
	workReturned := false
	defer func() {
		if workReturned {
			return
		}
		p := recover()
		if p == nil {
			return
		}
		cls := classify.Result{
			Kind:                classify.KindUnknown,
			Message:             fmt.Sprintf("work panicked: %v", p),
			ShouldReverseCharge: true,
		}
		r.logger.Error("charged work panicked",
			"account_id", req.AccountID,
			"operation", req.Operation,
			"charge_id", out.ID.String(),
			"panic", p,
		)
		plugins.EmitErrorClassified(ctx, req.Operation, string(cls.Kind), true, errors.New(cls.Message))
		_ = reverse(ctx, r, req, out, cost, cls.Message) //nolint:errcheck // logged in reverse; the panic wins
		panic(p)
	}()

	res := retry.Execute(ctx, r.policy, work, r.classifier.Retryable,
		retry.WithName(req.Operation),
		retry.WithLogger(r.logger),
		retry.WithNotify(func(err error, attempt int, delay time.Duration) {
			plugins.EmitRetryAttempt(ctx, req.Operation, attempt, delay, err)
		}),
	)
	workReturned = true
	out.Attempts = res.Attempts

	if res.Success {
		out.Value = res.Data
		plugins.EmitChargeSettled(ctx, req.AccountID, req.Operation, cost, res.Attempts)
		return out, nil
	}

	cls := r.classifier.Log(ctx, res.Err, classify.Context{
		Operation: req.Operation,
		AccountID: req.AccountID,
		Metadata:  meta,
	})
	out.Classification = &cls
	plugins.EmitErrorClassified(ctx, req.Operation, string(cls.Kind), cls.ShouldReverseCharge, res.Err)

	if !cls.ShouldReverseCharge {
		return out, res.Err
	}

	if err := reverse(ctx, r, req, out, cost, cls.Message); err != nil {
		return out, fmt.Errorf("%w: %w (work error: %w)", ErrRefundFailed, err, res.Err)
	}
	return out, res.Err
}

// reverse refunds the committed charge in out, linked to it through
// RefundOf, and records the refund on out. The refund must land even if the
// caller's context is already done.
func reverse[T any](ctx context.Context, r *Runner, req Request, out *Outcome[T], cost int64, reason string) error {
	refunded, err := r.ledger.Refund(context.WithoutCancel(ctx), credits.RefundRequest{
		AccountID: req.AccountID,
		Amount:    cost,
		Operation: req.Operation,
		Reason:    reason,
		Metadata:  map[string]string{MetaChargeID: out.ID.String()},
		RefundOf:  out.Charge.ID,
	})
	if err != nil {
		r.logger.Error("charge refund failed",
			"account_id", req.AccountID,
			"operation", req.Operation,
			"charge_id", out.ID.String(),
			"transaction_id", out.Charge.ID.String(),
			"amount", cost,
			"error", err,
		)
		return err
	}

	out.Refund = refunded.Transaction
	out.Balance = refunded.NewBalance
	r.ledger.Plugins().EmitChargeReversed(ctx, req.AccountID, req.Operation, cost, reason)
	return nil
}
