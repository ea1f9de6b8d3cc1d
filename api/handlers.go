package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
)

// ──────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

type openAccountRequest struct {
	AccountID    string            `json:"account_id"`
	InitialGrant int64             `json:"initial_grant"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.ledger.OpenAccount(r.Context(), req.AccountID, req.InitialGrant, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.Account(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type balanceResponse struct {
	AccountID string                     `json:"account_id"`
	Balance   int64                      `json:"balance"`
	IsPro     bool                       `json:"is_pro"`
	Status    account.SubscriptionStatus `json:"subscription_status,omitempty"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.Account(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: a.ID,
		Balance:   a.Balance,
		IsPro:     a.Subscription.IsPro(),
		Status:    a.Subscription.Status,
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := transaction.ListOpts{Type: transaction.Type(q.Get("type"))}
	if opts.Type != "" && !opts.Type.IsValid() {
		s.writeError(w, r, credits.ValidationError{Field: "type", Message: "unknown transaction type"})
		return
	}

	var err error
	if opts.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "accountID"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

type deductRequest struct {
	Amount    int64             `json:"amount"`
	Operation string            `json:"operation"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ledger.Deduct(r.Context(), credits.DeductRequest{
		AccountID: chi.URLParam(r, "accountID"),
		Amount:    req.Amount,
		Operation: req.Operation,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refundRequest struct {
	Amount    int64             `json:"amount"`
	Operation string            `json:"operation"`
	Reason    string            `json:"reason"`
	RefundOf  string            `json:"refund_of,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var refundOf id.TransactionID
	if req.RefundOf != "" {
		parsed, err := id.ParseTransactionID(req.RefundOf)
		if err != nil {
			s.writeError(w, r, credits.ValidationError{Field: "refund_of", Message: "must be a transaction ID"})
			return
		}
		refundOf = parsed
	}

	res, err := s.ledger.Refund(r.Context(), credits.RefundRequest{
		AccountID: chi.URLParam(r, "accountID"),
		Amount:    req.Amount,
		Operation: req.Operation,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
		RefundOf:  refundOf,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type grantRequest struct {
	Amount        int64             `json:"amount"`
	Type          transaction.Type  `json:"type"`
	Operation     string            `json:"operation"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Type == "" {
		req.Type = transaction.TypeGrant
	}

	res, err := s.ledger.Grant(r.Context(), credits.GrantRequest{
		AccountID:     chi.URLParam(r, "accountID"),
		Amount:        req.Amount,
		Type:          req.Type,
		Operation:     req.Operation,
		Metadata:      req.Metadata,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setBalanceRequest struct {
	Balance *int64 `json:"balance"`
	Reason  string `json:"reason"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req setBalanceRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Balance == nil {
		s.writeError(w, r, credits.ValidationError{Field: "balance", Message: "is required"})
		return
	}

	res, err := s.ledger.SetBalance(r.Context(), chi.URLParam(r, "accountID"), *req.Balance, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Get(r.Context()))
}

func (s *Server) handleUpdateCosts(w http.ResponseWriter, r *http.Request) {
	var costs catalog.Costs
	if err := decode(w, r, &costs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.catalogUpdated(w, r, s.catalog.UpdateCosts(r.Context(), s.writer, costs))
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var plan catalog.Plan
	if err := decode(w, r, &plan); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.catalogUpdated(w, r, s.catalog.UpdatePlan(r.Context(), s.writer, chi.URLParam(r, "planKey"), plan))
}

func (s *Server) handleUpdateCreditPacks(w http.ResponseWriter, r *http.Request) {
	var packs []catalog.CreditPack
	if err := decode(w, r, &packs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.catalogUpdated(w, r, s.catalog.UpdateCreditPacks(r.Context(), s.writer, packs))
}

func (s *Server) handleUpdateTrial(w http.ResponseWriter, r *http.Request) {
	var trial catalog.Trial
	if err := decode(w, r, &trial); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.catalogUpdated(w, r, s.catalog.UpdateTrial(r.Context(), s.writer, trial))
}

func (s *Server) catalogUpdated(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Get(r.Context()))
}

// ──────────────────────────────────────────────────
// Billing
// ──────────────────────────────────────────────────

func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, credits.ValidationError{Field: "body", Message: "unreadable"})
		return
	}

	ev, err := billing.ConstructEvent(payload, r.Header.Get(billing.SignatureHeader), s.secret)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidSignature) {
			s.logger.Warn("webhook signature rejected", "error", err)
		}
		s.writeError(w, r, err)
		return
	}

	out, err := s.billing.Process(r.Context(), ev)
	if err != nil {
		// A 5xx asks the provider to redeliver; grants are idempotent.
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, credits.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

