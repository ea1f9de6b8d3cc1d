// Package audithook bridges credit ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnDeducted         = (*Extension)(nil)
	_ plugin.OnRefunded         = (*Extension)(nil)
	_ plugin.OnGranted          = (*Extension)(nil)
	_ plugin.OnBalanceSet       = (*Extension)(nil)
	_ plugin.OnDeductRejected   = (*Extension)(nil)
	_ plugin.OnChargeReversed   = (*Extension)(nil)
	_ plugin.OnWebhookProcessed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnDeducted implements plugin.OnDeducted.
func (e *Extension) OnDeducted(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTx(ctx, ActionCreditsDeducted, CategoryUsage, tx)
}

// OnRefunded implements plugin.OnRefunded.
func (e *Extension) OnRefunded(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTx(ctx, ActionCreditsRefunded, CategoryBalance, tx)
}

// OnGranted implements plugin.OnGranted.
func (e *Extension) OnGranted(ctx context.Context, tx *transaction.Transaction) error {
	return e.recordTx(ctx, ActionCreditsGranted, CategoryBalance, tx)
}

// OnBalanceSet implements plugin.OnBalanceSet.
// Manual corrections are flagged as warnings so they stand out in review.
func (e *Extension) OnBalanceSet(ctx context.Context, tx *transaction.Transaction) error {
	return e.record(ctx, ActionCreditsBalanceSet, SeverityWarning, OutcomeSuccess,
		ResourceAccount, tx.AccountID, CategoryAdmin, nil,
		"transaction_id", tx.ID.String(),
		"balance_before", tx.BalanceBefore,
		"balance_after", tx.BalanceAfter,
		"reason", tx.Metadata[credits.MetaReason],
	)
}

// OnDeductRejected implements plugin.OnDeductRejected.
func (e *Extension) OnDeductRejected(ctx context.Context, accountID, operation string, amount, balance int64) error {
	return e.record(ctx, ActionDeductRejected, SeverityWarning, OutcomeFailure,
		ResourceAccount, accountID, CategoryUsage, nil,
		"operation", operation,
		"amount", amount,
		"balance", balance,
	)
}

// ──────────────────────────────────────────────────
// Charge and billing hooks
// ──────────────────────────────────────────────────

// OnChargeReversed implements plugin.OnChargeReversed.
func (e *Extension) OnChargeReversed(ctx context.Context, accountID, operation string, amount int64, reason string) error {
	return e.record(ctx, ActionChargeReversed, SeverityInfo, OutcomeSuccess,
		ResourceCharge, accountID, CategoryUsage, nil,
		"operation", operation,
		"amount", amount,
		"reversal_reason", reason,
	)
}

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (e *Extension) OnWebhookProcessed(ctx context.Context, eventType, eventID string, err error) error {
	if err != nil {
		return e.record(ctx, ActionWebhookFailed, SeverityError, OutcomeFailure,
			ResourceWebhook, eventID, CategoryIntegration, err,
			"event_type", eventType,
		)
	}
	return e.record(ctx, ActionWebhookProcessed, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, eventID, CategoryIntegration, nil,
		"event_type", eventType,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) recordTx(ctx context.Context, action, category string, tx *transaction.Transaction) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceAccount, tx.AccountID, category, nil,
		"transaction_id", tx.ID.String(),
		"type", string(tx.Type),
		"amount", tx.Amount,
		"operation", tx.Operation,
		"balance_after", tx.BalanceAfter,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
