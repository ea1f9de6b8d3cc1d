package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a retried operation. Attempts counts the
// invocations actually made.
type Result[T any] struct {
	Success  bool
	Data     T
	Err      error
	Attempts int
}

// Operation is one attempt of a retried call.
type Operation[T any] func(ctx context.Context) (T, error)

// Predicate reports whether a failure is worth another attempt.
type Predicate func(err error) bool

// NotifyFunc observes a failed attempt before the wait that follows it.
type NotifyFunc func(err error, attempt int, delay time.Duration)

type config struct {
	name   string
	logger *slog.Logger
	notify NotifyFunc
}

// Option configures a single Execute call.
type Option func(*config)

// WithName labels log records with the operation name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithNotify registers a callback run after every failed attempt that will
// be retried.
func WithNotify(fn NotifyFunc) Option {
	return func(c *config) { c.notify = fn }
}

// Execute runs op until it succeeds, shouldRetry rejects its error, the
// policy's attempts run out, or ctx is done. A nil shouldRetry retries every
// error. The wait after failed attempt n is policy.Delay(n).
func Execute[T any](ctx context.Context, policy Policy, op Operation[T], shouldRetry Predicate, opts ...Option) Result[T] {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var (
		attempts int
		lastErr  error
	)
	data, err := backoff.Retry(ctx,
		func() (T, error) {
			attempts++
			v, err := op(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err
			if shouldRetry != nil && !shouldRetry(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(&policyBackOff{policy: policy}),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			cfg.logger.Warn("retrying operation",
				"operation", cfg.name,
				"attempt", attempts,
				"max_attempts", policy.MaxAttempts,
				"delay", delay,
				"error", err,
			)
			if cfg.notify != nil {
				cfg.notify(err, attempts, delay)
			}
		}),
	)
	if err == nil {
		return Result[T]{Success: true, Data: data, Attempts: attempts}
	}

	final := lastErr
	switch {
	case final == nil:
		final = err
	case !errors.Is(err, lastErr):
		// Cancelled while waiting between attempts.
		final = fmt.Errorf("retry: %w after %d attempts: %w", err, attempts, lastErr)
	}
	return Result[T]{Err: final, Attempts: attempts}
}

// ExecuteAll runs every operation concurrently, each with its own retry
// loop, and returns their results in input order.
func ExecuteAll[T any](ctx context.Context, policy Policy, ops []Operation[T], shouldRetry Predicate, opts ...Option) []Result[T] {
	results := make([]Result[T], len(ops))

	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() error {
			results[i] = Execute(ctx, policy, op, shouldRetry, opts...)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never fail; errors live in results

	return results
}

// Wrap returns op with the retry loop built in, reporting the last error on
// failure.
func Wrap[T any](policy Policy, op Operation[T], shouldRetry Predicate, opts ...Option) Operation[T] {
	return func(ctx context.Context) (T, error) {
		res := Execute(ctx, policy, op, shouldRetry, opts...)
		return res.Data, res.Err
	}
}
