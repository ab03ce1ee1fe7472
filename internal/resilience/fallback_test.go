package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(cfg CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{CircuitBreaker: cfg})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   []string
		want      string
		wantTried []string
		wantErr   error
	}{
		{name: "primary serves", want: "openai", wantTried: []string{"openai"}},
		{name: "fails over", failing: []string{"openai"}, want: "local", wantTried: []string{"openai", "local"}},
		{name: "skips to last", failing: []string{"openai", "local"}, want: "backup", wantTried: []string{"openai", "local", "backup"}},
		{name: "all fail", failing: []string{"openai", "local", "backup"}, wantTried: []string{"openai", "local", "backup"}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "openai", "local", "backup")

			var tried []string
			got, err := Call(context.Background(), fg, func(_ context.Context, v string) (string, error) {
				tried = append(tried, v)
				if slices.Contains(tt.failing, v) {
					return "", errTest
				}
				return v, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v, want it to wrap the last failure", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "openai", "local")

	for range 2 {
		_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "openai" {
				return errTest
			}
			return nil
		})
	}

	var tried []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tried, []string{"local"}) {
		t.Errorf("tried %v, want only local while the primary circuit is open", tried)
	}
}

func TestCall_CancellationStopsFailover(t *testing.T) {
	t.Parallel()

	t.Run("reported by backend", func(t *testing.T) {
		t.Parallel()
		fg := newGroup(CircuitBreakerConfig{MaxFailures: 1}, "openai", "local")

		var tried []string
		_, err := Call(context.Background(), fg, func(_ context.Context, v string) (string, error) {
			tried = append(tried, v)
			return "", context.Canceled
		})
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want bare context.Canceled", err)
		}
		if !slices.Equal(tried, []string{"openai"}) {
			t.Errorf("tried %v, want only the primary", tried)
		}
		if s := fg.Breaker("openai").State(); s != StateClosed {
			t.Errorf("primary breaker = %s, want closed", s)
		}
	})

	t.Run("context already done", func(t *testing.T) {
		t.Parallel()
		fg := newGroup(CircuitBreakerConfig{}, "openai")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := fg.Execute(ctx, func(context.Context, string) error {
			called = true
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if called {
			t.Error("backend called with a done context")
		}
	})

	t.Run("context ends between entries", func(t *testing.T) {
		t.Parallel()
		fg := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "openai", "local")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var tried []string
		err := fg.Execute(ctx, func(_ context.Context, v string) error {
			tried = append(tried, v)
			cancel()
			return errTest
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if !slices.Equal(tried, []string{"openai"}) {
			t.Errorf("tried %v, want only the primary", tried)
		}
	})
}

func TestFallbackGroup_NamesAndBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{}, "stt/openai#0", "stt/openai#1")

	if got := fg.Names(); !slices.Equal(got, []string{"stt/openai#0", "stt/openai#1"}) {
		t.Errorf("Names() = %v", got)
	}
	if b := fg.Breaker("stt/openai#1"); b == nil || b.Name() != "stt/openai#1" {
		t.Errorf("Breaker(stt/openai#1) = %v", b)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) != nil")
	}
}

func TestFallbackGroup_Available(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, "openai", "local")

	if err := fg.Available(); err != nil {
		t.Fatalf("Available() = %v on fresh group", err)
	}
	_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if err := fg.Available(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Available() = %v, want ErrCircuitOpen", err)
	}
}
