package classify_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/classify"
)

type rateLimitErr struct{ wait time.Duration }

func (e rateLimitErr) Error() string              { return "429 too many requests" }
func (e rateLimitErr) RetryAfter() time.Duration { return e.wait }

type codedErr struct{ code string }

func (e codedErr) Error() string     { return "store rejected write" }
func (e codedErr) ErrorCode() string { return e.code }

func TestClassify(t *testing.T) {
	c := classify.New()

	tests := []struct {
		name      string
		err       error
		kind      classify.Kind
		retryable bool
		reverse   bool
	}{
		{"network keyword", errors.New("Network request timeout"), classify.KindNetwork, true, true},
		{"connection refused", errors.New("dial tcp: ECONNREFUSED"), classify.KindNetwork, true, true},
		{"net.Error", &net.DNSError{Err: "no such host", Name: "queue.example.com"}, classify.KindNetwork, true, true},
		{"context deadline", context.DeadlineExceeded, classify.KindNetwork, true, true},
		{"generation", errors.New("Generation failed: empty output"), classify.KindGenerationFailure, false, true},
		{"provider", errors.New("fal.ai returned 500"), classify.KindGenerationFailure, false, true},
		{"backend keyword", errors.New("firestore: unavailable"), classify.KindBackendTransient, true, false},
		{"pg error", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, classify.KindBackendTransient, true, false},
		{"coded error", codedErr{code: "aborted"}, classify.KindBackendTransient, true, false},
		{"store failure", fmt.Errorf("deduct: %w", credits.ErrTransactionFailed), classify.KindBackendTransient, true, false},
		{"validation keyword", errors.New("Invalid input: must be positive"), classify.KindValidation, false, false},
		{"validation error", credits.ValidationError{Field: "prompt", Message: "is empty"}, classify.KindValidation, false, false},
		{"rate limit", errors.New("rate limit reached"), classify.KindRateLimited, false, false},
		{"quota", errors.New("Quota exceeded for today"), classify.KindRateLimited, false, false},
		{"insufficient sentinel", fmt.Errorf("deduct 3 from u1: %w", credits.ErrInsufficientCredits), classify.KindInsufficientCredits, false, false},
		{"insufficient tokens", errors.New("Insufficient tokens"), classify.KindInsufficientCredits, false, false},
		{"unknown", errors.New("something odd happened"), classify.KindUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.err)
			if res.Kind != tt.kind {
				t.Fatalf("kind: got %q, want %q", res.Kind, tt.kind)
			}
			if res.Retryable != tt.retryable {
				t.Errorf("retryable: got %v, want %v", res.Retryable, tt.retryable)
			}
			if res.ShouldReverseCharge != tt.reverse {
				t.Errorf("reverse: got %v, want %v", res.ShouldReverseCharge, tt.reverse)
			}
			if res.ShouldReverseCharge != classify.ShouldReverseCharge(res.Kind) {
				t.Errorf("ShouldReverseCharge(%q) disagrees with result", res.Kind)
			}
			if res.Message != tt.err.Error() {
				t.Errorf("message: got %q", res.Message)
			}
			if c.Retryable(tt.err) != tt.retryable {
				t.Errorf("Retryable disagrees with Classify")
			}
		})
	}
}

func TestRuleOrder(t *testing.T) {
	c := classify.New()

	// Network is checked before generation failure.
	if k := c.Classify(errors.New("model error: connection reset")).Kind; k != classify.KindNetwork {
		t.Errorf("got %q, want network", k)
	}
	// Generation failure is checked before validation.
	if k := c.Classify(errors.New("inference error: invalid tensor")).Kind; k != classify.KindGenerationFailure {
		t.Errorf("got %q, want generation_failure", k)
	}
	// Validation is checked before insufficient credits.
	if k := c.Classify(errors.New("insufficient credits: amount must be positive")).Kind; k != classify.KindValidation {
		t.Errorf("got %q, want validation", k)
	}
}

func TestDeterministic(t *testing.T) {
	c := classify.New()
	err := errors.New("Network request timeout")
	first := c.Classify(err)
	for range 10 {
		if got := c.Classify(err); got != first {
			t.Fatalf("classification changed: %+v vs %+v", got, first)
		}
	}
}

func TestUserMessages(t *testing.T) {
	c := classify.New()

	tests := []struct {
		err  error
		want string
	}{
		{errors.New("fetch failed"), "Connection issue detected. Retrying automatically..."},
		{errors.New("ai service down"), "Generation failed. Your token has been refunded."},
		{errors.New("deadline-exceeded"), "Database error. Retrying automatically..."},
		{errors.New("prompt is required"), "prompt is required"},
		{errors.New("too many requests"), "Too many requests. Please wait 60 seconds."},
		{rateLimitErr{wait: 1500 * time.Millisecond}, "Too many requests. Please wait 2 seconds."},
		{credits.ErrInsufficientCredits, "Insufficient tokens. Please purchase more to continue."},
		{errors.New("boom"), "An unexpected error occurred. Your token has been refunded."},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.err).UserMessage; got != tt.want {
			t.Errorf("Classify(%q).UserMessage = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	c := classify.New()

	if got := c.Classify(errors.New("rate limit")).RetryAfter; got != classify.DefaultRetryAfter {
		t.Errorf("default retry after: got %v", got)
	}
	if got := c.Classify(rateLimitErr{wait: 5 * time.Second}).RetryAfter; got != 5*time.Second {
		t.Errorf("explicit retry after: got %v", got)
	}
}

func TestNilError(t *testing.T) {
	res := classify.New().Classify(nil)
	if res.Kind != classify.KindUnknown || res.Message != "unknown error occurred" || !res.ShouldReverseCharge {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestGenerationKeywordsOption(t *testing.T) {
	err := errors.New("replicate: prediction crashed")
	if k := classify.New().Classify(err).Kind; k != classify.KindUnknown {
		t.Fatalf("without option: got %q", k)
	}
	c := classify.New(classify.WithGenerationKeywords("prediction crashed"))
	if k := c.Classify(err).Kind; k != classify.KindGenerationFailure {
		t.Errorf("with option: got %q", k)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c := classify.New(classify.WithLogger(logger))

	res := c.Log(context.Background(), errors.New("model error"), classify.Context{
		Operation: "grid3x3",
		AccountID: "user-1",
		Metadata:  map[string]string{"prompt_id": "p1"},
	})
	if res.Kind != classify.KindGenerationFailure {
		t.Fatalf("kind: got %q", res.Kind)
	}

	out := buf.String()
	for _, want := range []string{`"level":"ERROR"`, `"kind":"generation_failure"`, `"operation":"grid3x3"`, `"account_id":"user-1"`, `"prompt_id":"p1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
