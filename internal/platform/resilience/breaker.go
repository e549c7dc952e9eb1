// Package resilience wraps outbound calls to remote systems in circuit breakers.
package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Excluded marks an error that must count as a successful call for the
// breaker: the remote system answered, it just rejected the request.
type Excluded struct {
	Err error
}

func (e Excluded) Error() string { return e.Err.Error() }
func (e Excluded) Unwrap() error { return e.Err }

// Exclude wraps err so it does not count toward tripping the breaker.
func Exclude(err error) error {
	if err == nil {
		return nil
	}
	return Excluded{Err: err}
}

// BreakerConfig tunes a breaker. Zero values pick the defaults.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Interval         time.Duration

	// OnStateChange, when set, is told whether the breaker is now open.
	OnStateChange func(name string, open bool)
}

// NewBreaker constructs a breaker that opens after FailureThreshold
// consecutive failures and logs every state change.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var excluded Excluded
			return err == nil || errors.As(err, &excluded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to == gobreaker.StateOpen)
			}
		},
	})
}

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
