package clients

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"lookout/pkg/logging"
)

// ReconnectConfig configures the exponential backoff applied between
// attempts to re-establish a long-lived upstream connection.
type ReconnectConfig struct {
	// Name identifies the connection in logs
	Name string

	// InitialDelay is the delay before the first reconnect. Default: 1s.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration

	// Multiplier grows the delay between consecutive failures. Default: 2.
	Multiplier float64

	// MaxAttempts is the number of consecutive failures tolerated before
	// the error is surfaced to the caller. Default: 10.
	MaxAttempts int

	// AbortOn lists errors that must not be retried (e.g. auth failures).
	AbortOn []error

	// Logger for per-attempt notifications
	Logger logging.Logger
}

// DefaultReconnectConfig returns the standard reconnect parameters.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Name:         "upstream",
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxAttempts:  10,
	}
}

// NewReconnectPolicy builds a failsafe retry policy realizing the
// min(maxDelay, initialDelay*multiplier^attempt) +/-20% jitter schedule.
func NewReconnectPolicy(cfg ReconnectConfig) retrypolicy.RetryPolicy[any] {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	builder := retrypolicy.NewBuilder[any]().
		WithBackoffFactor(cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier).
		WithJitterFactor(0.2).
		WithMaxRetries(cfg.MaxAttempts)

	if len(cfg.AbortOn) > 0 {
		builder = builder.AbortOnErrors(cfg.AbortOn...)
	}

	if cfg.Logger != nil {
		builder = builder.OnRetry(func(event failsafe.ExecutionEvent[any]) {
			cfg.Logger.WithFields(logging.Fields{
				"connection": cfg.Name,
				"attempt":    event.Attempts(),
			}).WithError(event.LastError()).Warn("connection lost, scheduling reconnect")
		})
	}

	return builder.Build()
}

// RunWithReconnect executes fn under the reconnect policy until it either
// succeeds (clean stop), aborts, exhausts the attempt budget, or the
// context is cancelled.
func RunWithReconnect(ctx context.Context, policy retrypolicy.RetryPolicy[any], fn func() error) error {
	return failsafe.With(policy).WithContext(ctx).Run(fn)
}
