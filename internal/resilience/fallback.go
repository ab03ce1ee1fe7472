package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. It wraps the last entry's error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is the template for the breaker each entry gets.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own [CircuitBreaker]. Calls go to the first entry whose breaker admits
// them and move down the list on failure.
//
// Add every entry before the group is shared; calls are then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose preferred entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Names lists the entries in trial order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		out = append(out, m.name)
	}
	return out
}

// Breaker returns the named entry's breaker, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, m := range fg.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Available reports nil while some entry would admit a call, and an error
// wrapping [ErrCircuitOpen] once every breaker is open.
func (fg *FallbackGroup[T]) Available() error {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrCircuitOpen, fg.Names())
}

// Execute is [Call] for operations without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Call(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Call runs fn against the entries of fg in order and returns the first
// success. Entries with an open breaker are skipped. Failover stops as soon
// as ctx is done or fn reports a cancellation, and that error is returned
// unwrapped so callers can tell an interrupt from an outage. When every entry
// fails the last error is wrapped in [ErrAllFailed].
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for i, m := range fg.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Execute(func() error {
			var ferr error
			out, ferr = fn(ctx, m.value)
			return ferr
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("resilience: served by fallback", "provider", m.name, "skipped", i)
			}
			return out, nil
		case Cancelled(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: circuit open, skipping", "provider", m.name)
		default:
			slog.Warn("resilience: provider failed", "provider", m.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
