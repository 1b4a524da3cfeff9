package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectConfig(t *testing.T) {
	config := ConnectConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got %d", config.MaxAttempts)
	}

	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}

	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay=5s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier=2.0, got %f", config.Multiplier)
	}

	if !config.Jitter {
		t.Error("Expected Jitter=true")
	}
}

func TestDo_Success(t *testing.T) {
	config := Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
		LogRetries:  false,
	}

	result := Do(context.Background(), config, func() error {
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}

	if result.LastError != nil {
		t.Errorf("Expected no error, got %v", result.LastError)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	config := Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
		LogRetries:  false,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	config := Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
		LogRetries:  false,
	}

	failure := errors.New("permanent failure")
	result := Do(context.Background(), config, func() error {
		return failure
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if !errors.Is(result.LastError, failure) {
		t.Errorf("Expected last error %v, got %v", failure, result.LastError)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	config := Config{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Jitter:      false,
		LogRetries:  false,
	}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	result := Do(ctx, config, func() error {
		calls++
		cancel()
		return errors.New("failure")
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}

	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", result.LastError)
	}
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	config := Config{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
	}

	if d := Delay(config, 0); d != time.Second {
		t.Errorf("Expected 1s for attempt 0, got %v", d)
	}

	if d := Delay(config, 1); d != 2*time.Second {
		t.Errorf("Expected 2s for attempt 1, got %v", d)
	}

	// Clamped at the ceiling
	if d := Delay(config, 5); d != 5*time.Second {
		t.Errorf("Expected 5s cap for attempt 5, got %v", d)
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	config := Config{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	for i := 0; i < 50; i++ {
		d := Delay(config, 1)
		// 2s +/- 10%
		if d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Errorf("Jittered delay %v outside expected bounds", d)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("request timeout"), true},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"bad gateway", errors.New("HTTP 502 Bad Gateway"), true},
		{"validation error", errors.New("invalid file path"), false},
		{"auth error", errors.New("unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.retryable {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}
