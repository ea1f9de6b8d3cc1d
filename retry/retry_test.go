package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/xraph/credits/retry"
)

var fast = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func TestDelay(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}

	if got := p.MaxTotalDelay(); got != 15*time.Second {
		t.Errorf("MaxTotalDelay = %v, want 15s", got)
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name string
		want retry.Policy
	}{
		{"default", retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}},
		{"store", retry.Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}},
		{"network", retry.Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := retry.Profile(tt.name)
			if !ok {
				t.Fatalf("profile %q not found", tt.name)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}

	if _, ok := retry.Profile("aggressive"); ok {
		t.Error("expected unknown profile to be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy retry.Policy
	}{
		{"zero attempts", retry.Policy{MaxAttempts: 0, Multiplier: 2}},
		{"negative delay", retry.Policy{MaxAttempts: 1, InitialDelay: -time.Second, Multiplier: 2}},
		{"cap below initial", retry.Policy{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 2}},
		{"shrinking multiplier", retry.Policy{MaxAttempts: 1, Multiplier: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExecuteFirstTry(t *testing.T) {
	res := retry.Execute(context.Background(), fast, func(context.Context) (string, error) {
		return "ok", nil
	}, nil)

	if !res.Success || res.Data != "ok" || res.Err != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", res.Attempts)
	}
}

func TestExecuteAlwaysFails(t *testing.T) {
	boom := errors.New("network request timeout")
	calls := 0

	res := retry.Execute(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, func(error) bool { return true })

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls=%d attempts=%d, want 3/3", calls, res.Attempts)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected last error, got %v", res.Err)
	}
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	invalid := errors.New("invalid input: must be positive")
	calls := 0

	res := retry.Execute(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, invalid
	}, func(error) bool { return false })

	if res.Success || calls != 1 || res.Attempts != 1 {
		t.Fatalf("expected one attempt, got calls=%d result=%+v", calls, res)
	}
	if !errors.Is(res.Err, invalid) {
		t.Errorf("expected original error, got %v", res.Err)
	}
}

func TestExecuteRecovers(t *testing.T) {
	calls := 0
	var notified []int
	var delays []time.Duration

	res := retry.Execute(context.Background(), fast, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "image", nil
	}, nil, retry.WithName("generate"), retry.WithNotify(func(_ error, attempt int, delay time.Duration) {
		notified = append(notified, attempt)
		delays = append(delays, delay)
	}))

	if !res.Success || res.Data != "image" {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", res.Attempts)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("notified attempts: got %v, want [1 2]", notified)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays: got %v", delays)
	}
}

func TestExecuteHonoursContext(t *testing.T) {
	slow := retry.Policy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("fetch failed")
	start := time.Now()
	res := retry.Execute(ctx, slow, func(context.Context) (int, error) {
		cancel()
		return 0, boom
	}, nil)

	if time.Since(start) > time.Minute {
		t.Fatal("Execute waited despite cancellation")
	}
	if res.Success || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected last operation error kept, got %v", res.Err)
	}
}

func TestExecuteAll(t *testing.T) {
	boom := errors.New("model error")
	ops := []retry.Operation[int]{
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 0, boom },
		func(context.Context) (int, error) { return 3, nil },
	}

	results := retry.ExecuteAll(context.Background(), fast, ops, func(error) bool { return false })
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].Data != 1 {
		t.Errorf("result 0: %+v", results[0])
	}
	if results[1].Success || !errors.Is(results[1].Err, boom) || results[1].Attempts != 1 {
		t.Errorf("result 1: %+v", results[1])
	}
	if !results[2].Success || results[2].Data != 3 {
		t.Errorf("result 2: %+v", results[2])
	}
}

func TestWrap(t *testing.T) {
	calls := 0
	op := retry.Wrap(fast, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("unavailable")
		}
		return "done", nil
	}, retry.StoreTransient)

	got, err := op(context.Background())
	if err != nil || got != "done" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		store   bool
		network bool
	}{
		{"nil", nil, false, false},
		{"unavailable", errors.New("rpc error: unavailable"), true, false},
		{"deadline", errors.New("deadline-exceeded"), true, false},
		{"internal", errors.New("internal server fault"), true, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, false, true},
		{"fetch", errors.New("fetch failed"), false, true},
		{"timeout", errors.New("request timeout"), false, true},
		{"validation", errors.New("prompt is required"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.StoreTransient(tt.err); got != tt.store {
				t.Errorf("StoreTransient = %v, want %v", got, tt.store)
			}
			if got := retry.NetworkTransient(tt.err); got != tt.network {
				t.Errorf("NetworkTransient = %v, want %v", got, tt.network)
			}
		})
	}
}
