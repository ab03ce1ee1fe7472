package capture_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simpletutor/voicefront/internal/capture"
)

func runDispatcher(t *testing.T, ctx context.Context, d *capture.Dispatcher) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDispatcher_FIFOOneAtATime(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		order    []string
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	consumer := capture.ConsumerFunc(func(_ context.Context, job capture.Job) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		if job.ID == "u1" {
			// The first utterance is slow; u2 must still wait for it.
			time.Sleep(30 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return nil
	})

	d := capture.NewDispatcher(consumer, capture.NewGeneration(), nil)
	done := runDispatcher(t, context.Background(), d)

	for _, id := range []string{"u1", "u2", "u3"} {
		if !d.Enqueue(capture.Job{ID: id}) {
			t.Fatalf("Enqueue(%s) = false", id)
		}
	}
	d.Close()
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"u1", "u2", "u3"}
	if len(order) != len(want) {
		t.Fatalf("handled %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestDispatcher_InterruptCancelsRunningJob(t *testing.T) {
	t.Parallel()

	gen := capture.NewGeneration()
	started := make(chan struct{})
	results := make(chan capture.Job, 2)
	causes := make(chan error, 2)

	consumer := capture.ConsumerFunc(func(ctx context.Context, job capture.Job) error {
		results <- job
		if job.ID == "long" {
			close(started)
			<-ctx.Done()
			causes <- context.Cause(ctx)
			return ctx.Err()
		}
		return nil
	})

	d := capture.NewDispatcher(consumer, gen, nil)
	done := runDispatcher(t, context.Background(), d)

	d.Enqueue(capture.Job{ID: "long"})
	d.Enqueue(capture.Job{ID: "next"})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}
	gen.Interrupt()

	select {
	case cause := <-causes:
		if !errors.Is(cause, capture.ErrInterrupted) {
			t.Errorf("cause = %v, want ErrInterrupted", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("running job not cancelled")
	}

	d.Close()
	waitDone(t, done)

	first, second := <-results, <-results
	if first.Generation != 0 || !gen.Stale(first.Generation) {
		t.Errorf("first job generation = %d, stale = %v", first.Generation, gen.Stale(first.Generation))
	}
	if second.ID != "next" || second.Generation != 1 {
		t.Errorf("second job = %s gen %d, want next gen 1", second.ID, second.Generation)
	}
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	t.Parallel()

	d := capture.NewDispatcher(capture.ConsumerFunc(func(context.Context, capture.Job) error { return nil }), capture.NewGeneration(), nil)
	d.Close()
	if d.Enqueue(capture.Job{ID: "late"}) {
		t.Error("Enqueue after Close = true")
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDispatcher_ShutdownDropsQueued(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var handled atomic.Int32
	consumer := capture.ConsumerFunc(func(ctx context.Context, _ capture.Job) error {
		handled.Add(1)
		close(release)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := capture.NewDispatcher(consumer, capture.NewGeneration(), nil)
	d.Enqueue(capture.Job{ID: "a"})
	d.Enqueue(capture.Job{ID: "b"})
	d.Enqueue(capture.Job{ID: "c"})
	done := runDispatcher(t, ctx, d)

	<-release
	cancel()
	waitDone(t, done)

	if got := handled.Load(); got != 1 {
		t.Errorf("handled = %d, want 1", got)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after shutdown, want 0", d.Pending())
	}
}

func TestDispatcher_ConsumerErrorDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	consumer := capture.ConsumerFunc(func(context.Context, capture.Job) error {
		calls.Add(1)
		return errors.New("stt unavailable")
	})
	d := capture.NewDispatcher(consumer, capture.NewGeneration(), nil)
	done := runDispatcher(t, context.Background(), d)
	d.Enqueue(capture.Job{ID: "a"})
	d.Enqueue(capture.Job{ID: "b"})
	d.Close()
	waitDone(t, done)

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (no retries, no abort)", calls.Load())
	}
}
