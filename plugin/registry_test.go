package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/transaction"
)

type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

type ledgerHooks struct {
	name string
	c    *calls
}

func (p *ledgerHooks) Name() string { return p.name }

func (p *ledgerHooks) OnTransactionCommitted(context.Context, *transaction.Transaction) error {
	p.c.add("committed")
	return nil
}

func (p *ledgerHooks) OnDeducted(context.Context, *transaction.Transaction) error {
	p.c.add("deducted")
	return nil
}

func (p *ledgerHooks) OnRefunded(context.Context, *transaction.Transaction) error {
	p.c.add("refunded")
	return nil
}

func (p *ledgerHooks) OnGranted(context.Context, *transaction.Transaction) error {
	p.c.add("granted")
	return nil
}

func (p *ledgerHooks) OnBalanceSet(context.Context, *transaction.Transaction) error {
	p.c.add("balance_set")
	return nil
}

type nameOnly struct{ name string }

func (p nameOnly) Name() string { return p.name }

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	if err := r.Register(nameOnly{"a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(nameOnly{"a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 plugin, got %d", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Fatal("unexpected Get result")
	}
	if len(r.List()) != 1 {
		t.Fatal("unexpected List result")
	}
}

func TestEmitCommittedDispatchesByType(t *testing.T) {
	tests := []struct {
		name  string
		tx    transaction.Transaction
		admin bool
		want  string
	}{
		{"deduct", transaction.Transaction{Type: transaction.TypeDeduct}, false, "deducted"},
		{"refund", transaction.Transaction{Type: transaction.TypeRefund}, false, "refunded"},
		{"purchase", transaction.Transaction{Type: transaction.TypePurchase}, false, "granted"},
		{"subscription", transaction.Transaction{Type: transaction.TypeSubscription}, false, "granted"},
		{"admin adjustment", transaction.Transaction{Type: transaction.TypeGrant}, true, "balance_set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &calls{}
			r := plugin.NewRegistry()
			if err := r.Register(&ledgerHooks{name: "hooks", c: c}); err != nil {
				t.Fatal(err)
			}
			r.EmitCommitted(context.Background(), &tt.tx, tt.admin)

			got := c.list()
			if len(got) != 2 || got[0] != "committed" || got[1] != tt.want {
				t.Fatalf("expected [committed %s], got %v", tt.want, got)
			}
		})
	}
}

type slowPlugin struct{ release chan struct{} }

func (p *slowPlugin) Name() string { return "slow" }

func (p *slowPlugin) OnDeductRejected(context.Context, string, string, int64, int64) error {
	<-p.release
	return nil
}

func TestHookTimeout(t *testing.T) {
	p := &slowPlugin{release: make(chan struct{})}
	defer close(p.release)

	r := plugin.NewRegistry().WithTimeout(10 * time.Millisecond)
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	r.EmitDeductRejected(context.Background(), "u1", "edit", 5, 1)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("emit blocked for %s", elapsed)
	}
}

type failingPlugin struct{ c *calls }

func (p *failingPlugin) Name() string { return "failing" }

func (p *failingPlugin) OnWebhookProcessed(context.Context, string, string, error) error {
	p.c.add("failing")
	return errors.New("boom")
}

type webhookPlugin struct{ c *calls }

func (p *webhookPlugin) Name() string { return "webhook" }

func (p *webhookPlugin) OnWebhookProcessed(context.Context, string, string, error) error {
	p.c.add("webhook")
	return nil
}

func TestHookErrorDoesNotStopDispatch(t *testing.T) {
	c := &calls{}
	r := plugin.NewRegistry()
	_ = r.Register(&failingPlugin{c: c})
	_ = r.Register(&webhookPlugin{c: c})

	r.EmitWebhookProcessed(context.Background(), "invoice.paid", "evt_1", nil)

	got := c.list()
	if len(got) != 2 || got[0] != "failing" || got[1] != "webhook" {
		t.Fatalf("expected both plugins in order, got %v", got)
	}
}
