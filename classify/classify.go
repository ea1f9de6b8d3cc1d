// Package classify maps failures from charged work onto a handling policy:
// whether to retry, whether to reverse the charge, and what to tell the user.
//
// Rules are evaluated in a fixed order and the first match wins, so the same
// error always yields the same Kind.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/v2/mongo"

	credits "github.com/xraph/credits"
)

// Kind is the category of a classified failure.
type Kind string

const (
	KindNetwork             Kind = "network"
	KindGenerationFailure   Kind = "generation_failure"
	KindBackendTransient    Kind = "backend_transient"
	KindValidation          Kind = "validation"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindUnknown             Kind = "unknown"
)

// DefaultRetryAfter is suggested for rate-limited failures that carry no
// delay of their own.
const DefaultRetryAfter = 60 * time.Second

// Keyword lists, matched case-insensitively against the error message.
var (
	NetworkKeywords      = []string{"network", "fetch", "timeout", "connection", "ECONNREFUSED", "ETIMEDOUT", "ENOTFOUND"}
	GenerationKeywords   = []string{"generation failed", "model error", "inference error", "fal.ai", "ai service"}
	BackendKeywords      = []string{"firestore", "firebase", "permission-denied", "unavailable", "deadline-exceeded"}
	ValidationKeywords   = []string{"validation", "invalid", "required", "must be", "should be"}
	RateLimitKeywords    = []string{"rate limit", "too many requests", "429", "quota exceeded"}
	InsufficientKeywords = []string{"insufficient tokens", "insufficient credits"}
)

// User-facing messages. Validation failures show their own message instead.
const (
	msgNetwork      = "Connection issue detected. Retrying automatically..."
	msgGeneration   = "Generation failed. Your token has been refunded."
	msgBackend      = "Database error. Retrying automatically..."
	msgInsufficient = "Insufficient tokens. Please purchase more to continue."
	msgUnknown      = "An unexpected error occurred. Your token has been refunded."
	msgNoError      = "unknown error occurred"
)

// Context describes where a failure happened. It only feeds logging.
type Context struct {
	Operation string
	AccountID string
	Metadata  map[string]string
}

// Result is the handling policy for one failure.
type Result struct {
	Kind                Kind          `json:"kind"`
	Message             string        `json:"message"`
	UserMessage         string        `json:"user_message"`
	Retryable           bool          `json:"retryable"`
	ShouldReverseCharge bool          `json:"should_reverse_charge"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
}

// Classifier is stateless apart from its configuration and safe for
// concurrent use.
type Classifier struct {
	logger             *slog.Logger
	generationKeywords []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger used by Log.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// WithGenerationKeywords adds provider-specific phrases that mark a
// generation failure.
func WithGenerationKeywords(keywords ...string) Option {
	return func(c *Classifier) {
		c.generationKeywords = append(c.generationKeywords, keywords...)
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		logger:             slog.Default(),
		generationKeywords: append([]string(nil), GenerationKeywords...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify categorizes err.
func (c *Classifier) Classify(err error) Result {
	if err == nil {
		return Result{
			Kind:                KindUnknown,
			Message:             msgNoError,
			UserMessage:         msgUnknown,
			ShouldReverseCharge: true,
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case isNetwork(err, lower):
		return Result{Kind: KindNetwork, Message: msg, UserMessage: msgNetwork, Retryable: true, ShouldReverseCharge: true}

	case containsAny(lower, c.generationKeywords):
		return Result{Kind: KindGenerationFailure, Message: msg, UserMessage: msgGeneration, ShouldReverseCharge: true}

	case isBackend(err, lower):
		return Result{Kind: KindBackendTransient, Message: msg, UserMessage: msgBackend, Retryable: true}

	case isValidation(err, lower):
		return Result{Kind: KindValidation, Message: msg, UserMessage: msg}

	case containsAny(lower, RateLimitKeywords):
		wait := retryAfter(err)
		return Result{
			Kind:        KindRateLimited,
			Message:     msg,
			UserMessage: fmt.Sprintf("Too many requests. Please wait %d seconds.", int64(math.Ceil(wait.Seconds()))),
			RetryAfter:  wait,
		}

	case errors.Is(err, credits.ErrInsufficientCredits) || containsAny(lower, InsufficientKeywords):
		return Result{Kind: KindInsufficientCredits, Message: msg, UserMessage: msgInsufficient}

	default:
		return Result{Kind: KindUnknown, Message: msg, UserMessage: msgUnknown, ShouldReverseCharge: true}
	}
}

// Retryable adapts the classifier to retry.Predicate.
func (c *Classifier) Retryable(err error) bool {
	return c.Classify(err).Retryable
}

// ShouldReverseCharge reports whether failures of kind k refund the charge.
func ShouldReverseCharge(k Kind) bool {
	return k == KindNetwork || k == KindGenerationFailure || k == KindUnknown
}

// Log classifies err and writes one structured error record for it.
func (c *Classifier) Log(ctx context.Context, err error, ec Context) Result {
	res := c.Classify(err)
	c.logger.ErrorContext(ctx, "operation failed",
		"kind", string(res.Kind),
		"operation", ec.Operation,
		"account_id", ec.AccountID,
		"message", res.Message,
		"metadata", ec.Metadata,
		"retryable", res.Retryable,
		"reverse_charge", res.ShouldReverseCharge,
	)
	return res
}

// ──────────────────────────────────────────────────
// Rules
// ──────────────────────────────────────────────────

func isNetwork(err error, lower string) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || containsAny(lower, NetworkKeywords)
}

// codedError is any error exposing a backend status code.
type codedError interface {
	ErrorCode() string
}

func isBackend(err error, lower string) bool {
	var (
		pgErr    *pgconn.PgError
		mongoErr mongo.ServerError
		coded    codedError
	)
	switch {
	case errors.As(err, &pgErr),
		errors.As(err, &mongoErr),
		errors.As(err, &coded),
		errors.Is(err, credits.ErrTransactionConflict),
		errors.Is(err, credits.ErrTransactionFailed):
		return true
	}
	return containsAny(lower, BackendKeywords)
}

func isValidation(err error, lower string) bool {
	var ve credits.ValidationError
	if errors.As(err, &ve) || errors.Is(err, credits.ErrInvalidInput) {
		return true
	}
	return containsAny(lower, ValidationKeywords)
}

func retryAfter(err error) time.Duration {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		return ra.RetryAfter()
	}
	return DefaultRetryAfter
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
