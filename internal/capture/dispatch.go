package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/observe"
	"github.com/simpletutor/voicefront/internal/segment"
)

// Utterance sources recorded on [Job.Source].
const (
	SourceSegmenter  = "segmenter"
	SourceManualStop = "manual_stop"
	SourceEnd        = "source_end"
)

// Job is one utterance handed to the downstream [Consumer].
type Job struct {
	// ID identifies the utterance in logs and traces.
	ID string

	Utterance segment.Utterance

	// Config is the user configuration in effect when the utterance was
	// captured. It is a copy; later changes do not affect it.
	Config config.UserConfig

	// Source records why the utterance was emitted.
	Source string

	// Captured is when the utterance was handed to the dispatcher.
	Captured time.Time

	// Generation is the interrupt generation the job runs under. It is set by
	// the dispatcher when the job starts.
	Generation uint64
}

// Consumer handles finished utterances. The dispatcher never calls
// HandleUtterance concurrently and delivers jobs in capture order. The
// context is cancelled when the job's generation is interrupted.
type Consumer interface {
	HandleUtterance(ctx context.Context, job Job) error
}

// ConsumerFunc adapts a function to [Consumer].
type ConsumerFunc func(ctx context.Context, job Job) error

// HandleUtterance calls f.
func (f ConsumerFunc) HandleUtterance(ctx context.Context, job Job) error { return f(ctx, job) }

// Dispatcher is a single-worker FIFO between the capture loop and the
// [Consumer]. Enqueue never blocks; Run executes jobs one at a time.
type Dispatcher struct {
	consumer Consumer
	gen      *Generation
	metrics  *observe.Metrics

	mu     sync.Mutex
	queue  []Job
	closed bool
	wake   chan struct{}
}

// NewDispatcher returns a dispatcher feeding consumer. Jobs run under
// contexts bound to gen.
func NewDispatcher(consumer Consumer, gen *Generation, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{
		consumer: consumer,
		gen:      gen,
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends job to the queue. It reports false after Close.
func (d *Dispatcher) Enqueue(job Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, job)
	d.mu.Unlock()

	d.metrics.DispatchQueueDepth.Add(context.Background(), 1)
	d.signal()
	return true
}

// Close stops accepting jobs. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

// Pending returns the number of queued jobs, excluding the one running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run processes jobs until ctx is cancelled, or until the dispatcher is
// closed and drained. Jobs still queued when ctx ends are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		job, ok, closed := d.pop()
		if !ok {
			if closed {
				return nil
			}
			select {
			case <-ctx.Done():
				d.shutdown()
				return nil
			case <-d.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			d.requeue(job)
			d.shutdown()
			return nil
		}
		d.handle(ctx, job)
	}
}

func (d *Dispatcher) handle(ctx context.Context, job Job) {
	jctx, gen, cancel := d.gen.Bind(ctx)
	defer cancel()
	job.Generation = gen
	jctx = observe.WithUtterance(jctx, job.ID, gen)

	start := time.Now()
	err := d.consumer.HandleUtterance(jctx, job)
	d.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(context.Cause(jctx), ErrInterrupted):
		slog.Debug("capture: utterance abandoned", "id", job.ID, "generation", gen, "err", err)
	default:
		slog.Warn("capture: utterance handling failed", "id", job.ID, "source", job.Source, "err", err)
	}
}

func (d *Dispatcher) pop() (job Job, ok, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Job{}, false, d.closed
	}
	job = d.queue[0]
	d.queue[0] = Job{}
	d.queue = d.queue[1:]
	d.metrics.DispatchQueueDepth.Add(context.Background(), -1)
	return job, true, d.closed
}

// requeue puts job back at the head so that drop accounts for it.
func (d *Dispatcher) requeue(job Job) {
	d.mu.Lock()
	d.queue = append([]Job{job}, d.queue...)
	d.mu.Unlock()
	d.metrics.DispatchQueueDepth.Add(context.Background(), 1)
}

func (d *Dispatcher) shutdown() {
	if n := d.drop(); n > 0 {
		slog.Info("capture: dropped queued utterances on shutdown", "count", n)
	}
}

func (d *Dispatcher) drop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	d.queue = nil
	d.metrics.DispatchQueueDepth.Add(context.Background(), int64(-n))
	return n
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
