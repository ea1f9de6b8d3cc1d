package observability_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/charge"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/retry"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/transaction"
)

func setup(t *testing.T) (*credits.Ledger, *observability.MetricsExtension) {
	t.Helper()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory())
	l := credits.New(memory.New(), credits.WithPlugin(m))
	t.Cleanup(func() { _ = l.Stop() })
	if _, err := l.OpenAccount(context.Background(), "u1", 10, nil); err != nil {
		t.Fatal(err)
	}
	return l, m
}

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatalf("expected prometheus counter, got %T", c)
	}
	return testutil.ToFloat64(pc)
}

func TestLedgerMetrics(t *testing.T) {
	l, m := setup(t)
	ctx := context.Background()

	if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "u1", Amount: 3, Operation: "grid_3x3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Deduct(ctx, credits.DeductRequest{AccountID: "u1", Amount: 50, Operation: "grid_3x3"}); err == nil {
		t.Fatal("expected insufficient credits")
	}
	if _, err := l.Refund(ctx, credits.RefundRequest{AccountID: "u1", Amount: 2, Operation: "grid_3x3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Grant(ctx, credits.GrantRequest{AccountID: "u1", Amount: 5, Type: transaction.TypePurchase}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.SetBalance(ctx, "u1", 0, "reset"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"deductions", m.Deductions, 1},
		{"credits deducted", m.CreditsDeducted, 3},
		{"rejected", m.DeductsRejected, 1},
		{"refunds", m.Refunds, 1},
		{"credits refunded", m.CreditsRefunded, 2},
		// Opening grant plus the purchase.
		{"grants", m.Grants, 2},
		{"credits granted", m.CreditsGranted, 15},
		{"balance sets", m.BalanceSets, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(t, tt.c); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestChargeMetrics(t *testing.T) {
	l, m := setup(t)
	r := charge.NewRunner(l, charge.WithPolicy(retry.Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}))

	_, err := charge.Run(context.Background(), r, charge.Request{AccountID: "u1", Operation: "upscale", Cost: 1},
		func(context.Context) (string, error) {
			return "", errors.New("network connection reset")
		})
	if err == nil {
		t.Fatal("expected error")
	}

	if got := value(t, m.RetryAttempts); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := value(t, m.ChargesReversed); got != 1 {
		t.Fatalf("expected 1 reversal, got %v", got)
	}
	if got := value(t, m.ErrorsOfKind("network")); got != 1 {
		t.Fatalf("expected 1 network error, got %v", got)
	}
}

func TestWebhookMetrics(t *testing.T) {
	_, m := setup(t)
	ctx := context.Background()
	_ = m.OnWebhookProcessed(ctx, "invoice.paid", "evt_1", nil)
	_ = m.OnWebhookProcessed(ctx, "invoice.paid", "evt_2", errors.New("boom"))

	if value(t, m.WebhookProcessed) != 1 || value(t, m.WebhookFailed) != 1 {
		t.Fatal("unexpected webhook counters")
	}
}

func TestPrometheusFactory(t *testing.T) {
	f := observability.NewPrometheusFactory()
	a := f.Counter("credits.charge.settled")
	b := f.Counter("credits.charge.settled")
	a.Inc()
	b.Add(2)
	f.Histogram("credits.retry.delay_ms").Observe(5)

	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"credits_charge_settled 3",
		"credits_retry_delay_ms_count 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}
