// Package api exposes the credit ledger over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/catalog"
)

// maxBodyBytes caps request bodies, webhooks included.
const maxBodyBytes = 1 << 20

// Server is the credit ledger HTTP API.
type Server struct {
	ledger  *credits.Ledger
	catalog *catalog.Cache
	writer  catalog.Writer
	billing *billing.Processor
	secret  string
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog serves the pricing catalog. A non-nil writer also enables
// the admin catalog update routes.
func WithCatalog(c *catalog.Cache, w catalog.Writer) Option {
	return func(s *Server) {
		s.catalog = c
		s.writer = w
	}
}

// WithBilling enables the billing webhook route. Requests must carry a
// valid signature for secret.
func WithBilling(p *billing.Processor, secret string) Option {
	return func(s *Server) {
		s.billing = p
		s.secret = secret
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new API server.
func NewServer(l *credits.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger: l,
		logger: l.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns a chi router with all routes mounted at the root.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	s.Routes(r)
	return r
}

// Routes registers the API routes on r, so a host router can mount them
// under its own prefix and middleware.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", s.handleOpenAccount)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Get("/balance", s.handleGetBalance)
			r.Put("/balance", s.handleSetBalance)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/deduct", s.handleDeduct)
			r.Post("/refund", s.handleRefund)
			r.Post("/grant", s.handleGrant)
		})
	})

	if s.catalog != nil {
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", s.handleGetCatalog)
			if s.writer != nil {
				r.Put("/costs", s.handleUpdateCosts)
				r.Put("/plans/{planKey}", s.handleUpdatePlan)
				r.Put("/credit-packs", s.handleUpdateCreditPacks)
				r.Put("/trial", s.handleUpdateTrial)
			}
		})
	}

	if s.billing != nil {
		r.Post("/webhooks/billing", s.handleBillingWebhook)
	}

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
}
