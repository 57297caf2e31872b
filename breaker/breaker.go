// Package breaker protects keyguard validation callbacks that reach
// remote stores with a circuit breaker, so a failing key backend sheds
// load instead of stalling every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// ErrValidatorUnavailable indicates that the circuit is open and the
// validation callback was not invoked.
var ErrValidatorUnavailable = errors.New("validator unavailable: circuit open")

// StateFunc is called when the circuit breaker changes state.
// Parameters: name (circuit breaker name), state (0=closed, 1=half-open, 2=open).
type StateFunc func(name string, state int)

// Breaker wraps gobreaker.CircuitBreaker around a validation callback.
type Breaker struct {
	cb            *gobreaker.CircuitBreaker
	logger        *zap.Logger
	stateCallback StateFunc
}

// Option is a functional option for configuring the breaker.
type Option func(*Breaker)

// WithBreakerLogger sets the logger for the breaker.
func WithBreakerLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithStateCallback sets a callback for state changes.
func WithStateCallback(fn StateFunc) Option {
	return func(b *Breaker) {
		b.stateCallback = fn
	}
}

// New creates a circuit breaker. The circuit trips once at least
// threshold requests have been observed in the interval and half of
// them failed; after timeout it admits trial requests again.
func New(name string, threshold int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(b)
	}

	thresholdU32 := safeIntToUint32(threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: thresholdU32,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= thresholdU32 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if b.stateCallback != nil {
				b.stateCallback(name, int(to))
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Wrap decorates a validation callback with circuit breaker protection.
// Only callback errors count as failures; invalid keys are ordinary
// results and never trip the circuit. While the circuit is open the
// callback is not invoked and ErrValidatorUnavailable propagates.
func (b *Breaker) Wrap(next keyguard.ValidateFunc) keyguard.ValidateFunc {
	return func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
		out, err := b.cb.Execute(func() (interface{}, error) {
			return next(ctx, key, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				b.logger.Warn("circuit breaker rejected validation",
					zap.String("state", b.cb.State().String()),
				)
				return nil, fmt.Errorf("%w: %s", ErrValidatorUnavailable, b.cb.State())
			}
			return nil, err
		}

		result, ok := out.(*keyguard.Result)
		if !ok && out != nil {
			return nil, fmt.Errorf("unexpected validator result type %T", out)
		}
		return result, nil
	}
}
