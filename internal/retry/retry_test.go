package retry

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/warren/internal/config"
	"github.com/Iron-Ham/warren/internal/errors"
)

func fastPolicy() Policy {
	return Policy{
		InitialInterval:     5 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
		MaxElapsedTime:      time.Second,
	}
}

func retryable() error {
	return errors.NewRemoteError(errors.RemoteRetryable, "service busy", nil).WithStatusCode(503)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.InitialInterval != 15*time.Second || p.Multiplier != 2.0 ||
		p.RandomizationFactor != 0.05 || p.MaxElapsedTime != 120*time.Second {
		t.Errorf("DefaultPolicy() = %+v", p)
	}

	fromCfg := PolicyFromConfig(config.Default().Backoff)
	if fromCfg != p {
		t.Errorf("PolicyFromConfig(defaults) = %+v, want %+v", fromCfg, p)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialInterval: time.Second, Multiplier: 2}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("Do() = %q after %d calls, want ok after 1", got, calls)
	}
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	calls := 0
	var states []State

	got, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, retryable()
		}
		return 42, nil
	}, WithNotify(func(s State) { states = append(states, s) }))

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("Do() = %d after %d calls, want 42 after 3", got, calls)
	}
	if len(states) != 2 {
		t.Fatalf("notify called %d times, want 2", len(states))
	}
	for i, s := range states {
		if s.Attempts != i+1 {
			t.Errorf("states[%d].Attempts = %d, want %d", i, s.Attempts, i+1)
		}
		if s.Deadline.Sub(s.Start) != time.Second {
			t.Errorf("states[%d] deadline offset = %v, want 1s", i, s.Deadline.Sub(s.Start))
		}
	}
	if states[1].Delay < states[0].Delay {
		t.Errorf("delays should not shrink: %v then %v", states[0].Delay, states[1].Delay)
	}
}

func TestDo_RetriesRequestTimeouts(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.NewRemoteError(errors.RemoteRetryable, "request timed out", context.DeadlineExceeded)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("Do() = %q after %d calls, want ok after 3", got, calls)
	}
}

func TestDo_NoElapsedBudget(t *testing.T) {
	p := fastPolicy()
	p.MaxElapsedTime = 0
	p.InitialInterval = time.Millisecond

	calls := 0
	var states []State
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, retryable()
	}, WithMaxTries(4), WithNotify(func(s State) { states = append(states, s) }))

	var exhausted *errors.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error = %v, want RetryExhaustedError", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	for i, s := range states {
		if !s.Deadline.IsZero() {
			t.Errorf("states[%d].Deadline = %v, want zero without a budget", i, s.Deadline)
		}
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.NewRemoteError(errors.RemoteFatal, "unauthorized", nil).WithStatusCode(401)
	calls := 0

	_, err := Do(context.Background(), fastPolicy(), func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, fatal
	})

	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
	if err != fatal {
		t.Errorf("Do() error = %v, want the original fatal error", err)
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	p := Policy{
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      2.0,
		MaxElapsedTime:  50 * time.Millisecond,
	}
	calls := 0
	start := time.Now()

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, retryable()
	})
	elapsed := time.Since(start)

	var exhausted *errors.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error = %v, want RetryExhaustedError", err)
	}
	if exhausted.Attempts != calls {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, calls)
	}
	var remote *errors.RemoteError
	if !errors.As(err, &remote) {
		t.Error("RetryExhaustedError should wrap the last failure")
	}
	// 10ms + 20ms fit the budget, the 40ms wait would not.
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Do() took %v, budget was %v", elapsed, p.MaxElapsedTime)
	}
	if errors.IsRetryable(err) {
		t.Error("exhausted errors must not be retryable")
	}
}

func TestDo_CancellationInterruptsWait(t *testing.T) {
	p := Policy{InitialInterval: 10 * time.Second, Multiplier: 2, MaxElapsedTime: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		return 0, retryable()
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not interrupt the backoff wait")
	}
}

func TestDo_CancelledOperationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})

	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestDo_Options(t *testing.T) {
	t.Run("custom classifier", func(t *testing.T) {
		plain := errors.New("flaky")
		calls := 0
		_, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, plain
			}
			return 1, nil
		}, WithClassifier(func(err error) bool { return err == plain }))
		if err != nil || calls != 2 {
			t.Errorf("Do() = %v after %d calls, want success after 2", err, calls)
		}
	})

	t.Run("max tries", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
			calls++
			return 0, retryable()
		}, WithMaxTries(2))
		if calls != 2 {
			t.Errorf("op called %d times, want 2", calls)
		}
		if !errors.Is(err, &errors.RetryExhaustedError{}) {
			t.Errorf("Do() error = %v, want RetryExhaustedError", err)
		}
	})
}
