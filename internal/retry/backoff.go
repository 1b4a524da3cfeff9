package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Maximum number of attempts including the first (default: 5)
	BaseDelay   time.Duration `json:"base_delay"`   // Base delay between attempts (default: 1s)
	MaxDelay    time.Duration `json:"max_delay"`    // Maximum delay between attempts (default: 5s)
	Multiplier  float64       `json:"multiplier"`   // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `json:"jitter"`       // Add random jitter to prevent thundering herd (default: true)
	LogRetries  bool          `json:"log_retries"`  // Whether to log retry attempts (default: true)
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
}

// ConnectConfig returns the retry configuration used for channel (re)connects:
// capped delays with a 1s floor and 5s ceiling.
func ConnectConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		LogRetries:  true,
	}
}

// RequestConfig returns a retry configuration for engine HTTP requests.
func RequestConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		LogRetries:  true,
	}
}

// Do executes an operation with exponential backoff, stopping on the first
// success, on context cancellation, or once the attempt budget is spent.
func Do(ctx context.Context, config Config, operation func() error) Result {
	startTime := time.Now()

	result := Result{}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && attempt > 0 {
				log.Debug().
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err

		if attempt >= config.MaxAttempts-1 {
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries {
				log.Warn().
					Err(err).
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation failed, attempt budget exhausted")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := Delay(config, attempt)
		if config.LogRetries {
			log.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxAttempts).
				Dur("delay", delay).
				Msg("Operation failed, retrying after backoff")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Delay calculates the backoff delay before attempt+1, using exponential
// backoff clamped to MaxDelay with up to 10% random jitter.
func Delay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is worth another attempt
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network-level failures that typically clear up on their own
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"unexpected eof",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
