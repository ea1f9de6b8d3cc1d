package extension

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/sqlite"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{})
	want := DefaultConfig()
	if cfg.BasePath != want.BasePath || cfg.Store.Driver != DriverMemory ||
		cfg.CatalogTTL != want.CatalogTTL || cfg.ChargeRetryProfile != "network" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		BasePath:   "/billing",
		CatalogTTL: time.Minute,
	}
	prog := Config{
		BasePath:      "/ignored",
		DisableRoutes: true,
		WebhookSecret: "whsec",
		Store:         StoreConfig{Driver: DriverSQLite, DSN: "file::memory:"},
	}

	cfg := mergeConfigurations(yaml, prog)
	if cfg.BasePath != "/billing" {
		t.Errorf("yaml base path should win, got %s", cfg.BasePath)
	}
	if !cfg.DisableRoutes {
		t.Error("programmatic DisableRoutes should apply")
	}
	if cfg.WebhookSecret != "whsec" || cfg.Store.Driver != DriverSQLite {
		t.Errorf("programmatic values should fill gaps: %+v", cfg)
	}
	if cfg.CatalogTTL != time.Minute {
		t.Errorf("expected 1m TTL, got %s", cfg.CatalogTTL)
	}
	if cfg.ChargeRetryProfile != "network" {
		t.Errorf("expected default retry profile, got %s", cfg.ChargeRetryProfile)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := openStore(ctx, StoreConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	s, err = openStore(ctx, StoreConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "credits.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, ok := s.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}

	if _, err := openStore(ctx, StoreConfig{Driver: "cassandra"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuildUnknownRetryProfileOpensNoStore(t *testing.T) {
	e := New()
	e.config = mergeWithDefaults(Config{
		Store:              StoreConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "credits.db")},
		ChargeRetryProfile: "bogus",
	})

	err := e.build(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown profile error, got %v", err)
	}
	if e.store != nil {
		_ = e.store.Close()
		t.Fatalf("store was opened before the profile lookup failed: %T", e.store)
	}
}

func TestBuildWiresLedgerAndRoutes(t *testing.T) {
	e := New(WithStore(memory.New()), WithWebhookSecret("whsec"))
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.ledger.Stop() })

	ctx := context.Background()
	if err := e.ledger.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ledger.OpenAccount(ctx, "u1", 5, nil); err != nil {
		t.Fatal(err)
	}

	h := e.Handler()
	if h == nil {
		t.Fatal("expected handler")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credits/accounts/u1/balance", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["balance"] != float64(5) {
		t.Fatalf("expected balance 5, got %v", resp["balance"])
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credits/metrics", nil))
	if !strings.Contains(w.Body.String(), "credits_grants") {
		t.Fatalf("expected ledger metrics in exposition, got %q", w.Body)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/credits/webhooks/billing", strings.NewReader("{}")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected unsigned webhook to be rejected, got %d", w.Code)
	}
}

func TestBuildDisableRoutes(t *testing.T) {
	e := New(WithStore(memory.New()), WithDisableRoutes())
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Server() != nil || e.Handler() != nil {
		t.Fatal("expected no API when routes are disabled")
	}
	if e.Runner() == nil || e.Ledger() == nil {
		t.Fatal("expected ledger and runner to be built")
	}
}

func TestBuildRejectsUnknownRetryProfile(t *testing.T) {
	e := New(WithStore(memory.New()), WithChargeRetryProfile("aggressive"))
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildWithCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	e := New(WithStore(memory.New()), WithCatalogFile(path))
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}

	cost, err := e.Runner().CostOf(context.Background(), "upscale")
	if err != nil {
		t.Fatal(err)
	}
	if cost != 1 {
		t.Fatalf("expected default upscale cost 1, got %d", cost)
	}
}

func TestBuildRegistersKafkaPublisher(t *testing.T) {
	e := New(
		WithStore(memory.New()),
		WithDisableRoutes(),
		WithKafka([]string{"127.0.0.1:9092"}, ""),
	)
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"observability-metrics", "kafka-hook"} {
		if e.Ledger().Plugins().Get(name) == nil {
			t.Errorf("expected plugin %s to be registered", name)
		}
	}
}

func TestBuildRegistersAuditRecorder(t *testing.T) {
	var actions []string
	rec := audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		actions = append(actions, ev.Action)
		return nil
	})
	e := New(WithStore(memory.New()), WithDisableRoutes(), WithAuditRecorder(rec))
	e.config = mergeWithDefaults(e.config)
	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := e.Ledger().OpenAccount(ctx, "u1", 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ledger().SetBalance(ctx, "u1", 3, "test"); err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0] != audithook.ActionCreditsBalanceSet {
		t.Fatalf("expected one balance_set audit event, got %v", actions)
	}
}
