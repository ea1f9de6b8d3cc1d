package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/store/memory"
)

const secret = "whsec_test"

func setupServer(t *testing.T) (*credits.Ledger, http.Handler) {
	t.Helper()
	s := memory.New()
	l := credits.New(s)
	t.Cleanup(func() { _ = l.Stop() })

	cache := catalog.NewCache(s)
	srv := api.NewServer(l,
		api.WithCatalog(cache, s),
		api.WithBilling(billing.NewProcessor(l, billing.WithCatalog(cache)), secret),
		api.WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	)
	return l, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := decodeBody(t, w)["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestAccountFlow(t *testing.T) {
	_, h := setupServer(t)

	w := do(t, h, http.MethodPost, "/accounts", map[string]any{"account_id": "u1", "initial_grant": 10})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodPost, "/accounts/u1/deduct", map[string]any{"amount": 3, "operation": "grid3x3"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if got := decodeBody(t, w)["new_balance"]; got != float64(7) {
		t.Fatalf("expected new_balance 7, got %v", got)
	}

	w = do(t, h, http.MethodPost, "/accounts/u1/refund", map[string]any{"amount": 3, "operation": "grid3x3", "reason": "generation failed"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodGet, "/accounts/u1/balance", nil)
	if got := decodeBody(t, w)["balance"]; got != float64(10) {
		t.Fatalf("expected balance 10, got %v", got)
	}

	w = do(t, h, http.MethodGet, "/accounts/u1/transactions?type=refund", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	txs, _ := decodeBody(t, w)["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("expected 1 refund, got %d", len(txs))
	}
}

func TestErrorStatuses(t *testing.T) {
	_, h := setupServer(t)
	do(t, h, http.MethodPost, "/accounts", map[string]any{"account_id": "u1", "initial_grant": 2})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"insufficient", http.MethodPost, "/accounts/u1/deduct", map[string]any{"amount": 5, "operation": "grid4x4"}, http.StatusPaymentRequired, "insufficient_credits"},
		{"unknown account", http.MethodPost, "/accounts/ghost/deduct", map[string]any{"amount": 1, "operation": "edit"}, http.StatusNotFound, "user_not_found"},
		{"zero amount", http.MethodPost, "/accounts/u1/deduct", map[string]any{"amount": 0}, http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/accounts/u1/deduct", map[string]any{"amount": 1, "bogus": true}, http.StatusBadRequest, "invalid_input"},
		{"account exists", http.MethodPost, "/accounts", map[string]any{"account_id": "u1"}, http.StatusConflict, "account_exists"},
		{"bad grant type", http.MethodPost, "/accounts/u1/grant", map[string]any{"amount": 1, "type": "deduct"}, http.StatusBadRequest, "invalid_input"},
		{"missing balance", http.MethodPut, "/accounts/u1/balance", map[string]any{"reason": "x"}, http.StatusBadRequest, "invalid_input"},
		{"bad refund_of", http.MethodPost, "/accounts/u1/refund", map[string]any{"amount": 1, "refund_of": "nope"}, http.StatusBadRequest, "invalid_input"},
		{"bad limit", http.MethodGet, "/accounts/u1/transactions?limit=-1", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body)
			}
			if code := errorCode(t, w); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGrantIdempotency(t *testing.T) {
	_, h := setupServer(t)
	do(t, h, http.MethodPost, "/accounts", map[string]any{"account_id": "u1"})

	body := map[string]any{"amount": 5, "type": "purchase", "correlation_id": "order-1"}
	if w := do(t, h, http.MethodPost, "/accounts/u1/grant", body); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	w := do(t, h, http.MethodPost, "/accounts/u1/grant", body)
	if w.Code != http.StatusConflict || errorCode(t, w) != "duplicate_transaction" {
		t.Fatalf("expected duplicate conflict, got %d: %s", w.Code, w.Body)
	}
}

func TestSetBalance(t *testing.T) {
	_, h := setupServer(t)
	do(t, h, http.MethodPost, "/accounts", map[string]any{"account_id": "u1", "initial_grant": 10})

	w := do(t, h, http.MethodPut, "/accounts/u1/balance", map[string]any{"balance": 0, "reason": "chargeback"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if got := decodeBody(t, w)["new_balance"]; got != float64(0) {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestCatalogRoutes(t *testing.T) {
	_, h := setupServer(t)

	w := do(t, h, http.MethodGet, "/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	costs := catalog.Default().Costs
	costs.Upscale = 4
	w = do(t, h, http.MethodPut, "/catalog/costs", costs)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	got, _ := decodeBody(t, w)["costs"].(map[string]any)
	if got["upscale"] != float64(4) {
		t.Fatalf("expected upscale 4, got %v", got["upscale"])
	}

	costs.Edit = 0
	w = do(t, h, http.MethodPut, "/catalog/costs", costs)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid costs, got %d", w.Code)
	}
}

func TestBillingWebhook(t *testing.T) {
	l, h := setupServer(t)
	do(t, h, http.MethodPost, "/accounts", map[string]any{"account_id": "u1"})

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"mode":"payment","metadata":{"userId":"u1","credits":"200"}}}}`)
	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set(billing.SignatureHeader, sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	if w := send("t=1,v1=00"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", w.Code)
	}

	sig := billing.Sign(payload, secret, time.Now())
	w := send(sig)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if got := decodeBody(t, w)["granted"]; got != float64(200) {
		t.Fatalf("expected 200 granted, got %v", got)
	}

	w = send(sig)
	if w.Code != http.StatusOK || decodeBody(t, w)["duplicate"] != true {
		t.Fatalf("expected duplicate acknowledgement, got %d: %s", w.Code, w.Body)
	}

	if bal, _ := l.GetBalance(context.Background(), "u1"); bal != 200 {
		t.Fatalf("expected balance 200, got %d", bal)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := setupServer(t)
	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), "# metrics") {
		t.Fatalf("expected metrics handler, got %q", w.Body)
	}
}
