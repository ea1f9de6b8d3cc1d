// Package observability provides a metrics extension for the credit ledger
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnDeducted         = (*MetricsExtension)(nil)
	_ plugin.OnRefunded         = (*MetricsExtension)(nil)
	_ plugin.OnGranted          = (*MetricsExtension)(nil)
	_ plugin.OnBalanceSet       = (*MetricsExtension)(nil)
	_ plugin.OnDeductRejected   = (*MetricsExtension)(nil)
	_ plugin.OnChargeSettled    = (*MetricsExtension)(nil)
	_ plugin.OnChargeReversed   = (*MetricsExtension)(nil)
	_ plugin.OnErrorClassified  = (*MetricsExtension)(nil)
	_ plugin.OnRetryAttempt     = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide credit metrics.
// Register it as a ledger plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Balance metrics
	Deductions      Counter
	CreditsDeducted Counter
	Refunds         Counter
	CreditsRefunded Counter
	Grants          Counter
	CreditsGranted  Counter
	BalanceSets     Counter
	DeductsRejected Counter

	// Charge metrics
	ChargesSettled  Counter
	ChargesReversed Counter
	ChargeAttempts  Histogram
	RetryAttempts   Counter
	RetryDelay      Histogram

	// Error metrics, one counter per classification kind
	mu           sync.Mutex
	errorsByKind map[string]Counter

	// Billing metrics
	WebhookProcessed Counter
	WebhookFailed    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		Deductions:      factory.Counter("credits.deductions"),
		CreditsDeducted: factory.Counter("credits.deducted.total"),
		Refunds:         factory.Counter("credits.refunds"),
		CreditsRefunded: factory.Counter("credits.refunded.total"),
		Grants:          factory.Counter("credits.grants"),
		CreditsGranted:  factory.Counter("credits.granted.total"),
		BalanceSets:     factory.Counter("credits.balance_sets"),
		DeductsRejected: factory.Counter("credits.deducts.rejected"),

		ChargesSettled:  factory.Counter("credits.charge.settled"),
		ChargesReversed: factory.Counter("credits.charge.reversed"),
		ChargeAttempts:  factory.Histogram("credits.charge.attempts"),
		RetryAttempts:   factory.Counter("credits.retry.attempts"),
		RetryDelay:      factory.Histogram("credits.retry.delay_ms"),

		errorsByKind: make(map[string]Counter),

		WebhookProcessed: factory.Counter("credits.webhook.processed"),
		WebhookFailed:    factory.Counter("credits.webhook.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnDeducted implements plugin.OnDeducted.
func (m *MetricsExtension) OnDeducted(_ context.Context, tx *transaction.Transaction) error {
	m.Deductions.Inc()
	m.CreditsDeducted.Add(float64(-tx.Amount))
	return nil
}

// OnRefunded implements plugin.OnRefunded.
func (m *MetricsExtension) OnRefunded(_ context.Context, tx *transaction.Transaction) error {
	m.Refunds.Inc()
	m.CreditsRefunded.Add(float64(tx.Amount))
	return nil
}

// OnGranted implements plugin.OnGranted.
func (m *MetricsExtension) OnGranted(_ context.Context, tx *transaction.Transaction) error {
	m.Grants.Inc()
	m.CreditsGranted.Add(float64(tx.Amount))
	return nil
}

// OnBalanceSet implements plugin.OnBalanceSet.
func (m *MetricsExtension) OnBalanceSet(_ context.Context, _ *transaction.Transaction) error {
	m.BalanceSets.Inc()
	return nil
}

// OnDeductRejected implements plugin.OnDeductRejected.
func (m *MetricsExtension) OnDeductRejected(_ context.Context, _, _ string, _, _ int64) error {
	m.DeductsRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnChargeSettled implements plugin.OnChargeSettled.
func (m *MetricsExtension) OnChargeSettled(_ context.Context, _, _ string, _ int64, attempts int) error {
	m.ChargesSettled.Inc()
	m.ChargeAttempts.Observe(float64(attempts))
	return nil
}

// OnChargeReversed implements plugin.OnChargeReversed.
func (m *MetricsExtension) OnChargeReversed(_ context.Context, _, _ string, _ int64, _ string) error {
	m.ChargesReversed.Inc()
	return nil
}

// OnErrorClassified implements plugin.OnErrorClassified.
func (m *MetricsExtension) OnErrorClassified(_ context.Context, _, kind string, _ bool, _ error) error {
	m.errorCounter(kind).Inc()
	return nil
}

// OnRetryAttempt implements plugin.OnRetryAttempt.
func (m *MetricsExtension) OnRetryAttempt(_ context.Context, _ string, _ int, delay time.Duration, _ error) error {
	m.RetryAttempts.Inc()
	m.RetryDelay.Observe(float64(delay.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, _, _ string, err error) error {
	if err != nil {
		m.WebhookFailed.Inc()
	} else {
		m.WebhookProcessed.Inc()
	}
	return nil
}

// ErrorsOfKind returns the counter for a classification kind.
func (m *MetricsExtension) ErrorsOfKind(kind string) Counter {
	return m.errorCounter(kind)
}

func (m *MetricsExtension) errorCounter(kind string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.errorsByKind[kind]
	if !ok {
		c = m.factory.Counter("credits.errors." + kind)
		m.errorsByKind[kind] = c
	}
	return c
}
