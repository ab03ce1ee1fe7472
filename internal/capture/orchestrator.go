// Package capture runs the continuous listening loop: it owns the capture
// device, feeds every frame through the gate and the segmenter, and hands
// finished utterances to a single-worker [Dispatcher].
//
// The loop reacts to preference edits without restarting. A change signal
// from the [config.Store] marks the configuration dirty; the loop reloads it
// at the top of the next iteration (or at least once per check interval) and
// rebuilds its session when thresholds, classifier mode, or the listening
// style changed. Nothing else is shared with the loop goroutine except a few
// atomic flags.
//
// Manual ("push to talk") sessions run with the gate bypassed and end either
// by [Orchestrator.SetManualListening] or, with auto-end enabled, after NOff
// consecutive quiet frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/observe"
	"github.com/simpletutor/voicefront/internal/segment"
	"github.com/simpletutor/voicefront/internal/status"
	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

const (
	defaultCheckInterval = time.Second
	defaultIdleDelay     = 200 * time.Millisecond
	defaultRetryDelay    = 10 * time.Millisecond
	statsInterval        = time.Second
)

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSink sets the status sink that receives listening state, phase, and
// input levels. Default: a sink that discards everything.
func WithSink(s status.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithGeneration shares an interrupt counter with downstream consumers.
func WithGeneration(g *Generation) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.gen = g
		}
	}
}

// WithCheckInterval sets how often the loop reloads preferences without a
// change signal. Default: 1s.
func WithCheckInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithIdleDelay sets the pause used while listening is disabled or the device
// cannot be opened. Default: 200ms.
func WithIdleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleDelay = d
		}
	}
}

// WithRetryDelay sets the pause after a read that produced no frame.
// Default: 10ms.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithExitOnSourceEnd makes Run return once the device reports
// [audio.ErrClosed], after the queued utterances have been handled. Used for
// file input. By default the loop idles and reopens the device.
func WithExitOnSourceEnd() Option {
	return func(o *Orchestrator) {
		o.exitOnEnd = true
	}
}

// Orchestrator owns the capture loop. Create one with [New] and start it with
// [Orchestrator.Run]. The control methods are safe to call from any goroutine.
type Orchestrator struct {
	dev        audio.Device
	vads       vad.Factory
	store      config.Store
	dispatcher *Dispatcher
	gen        *Generation
	sink       status.Sink
	metrics    *observe.Metrics

	checkInterval time.Duration
	idleDelay     time.Duration
	retryDelay    time.Duration
	exitOnEnd     bool

	dirty       atomic.Bool
	pendingStop atomic.Bool
	listening   atomic.Bool
	lastIter    atomic.Int64

	// ctrlMu serializes read-modify-write of the stored preferences.
	ctrlMu sync.Mutex
}

// New creates an orchestrator reading from dev, classifying with classifiers
// from vads, and delivering utterances to consumer. vads may be nil, in which
// case only the loudness and noise gates decide.
func New(dev audio.Device, vads vad.Factory, store config.Store, consumer Consumer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dev:           dev,
		vads:          vads,
		store:         store,
		sink:          nopSink{},
		checkInterval: defaultCheckInterval,
		idleDelay:     defaultIdleDelay,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.gen == nil {
		o.gen = NewGeneration()
	}
	o.dispatcher = NewDispatcher(consumer, o.gen, o.metrics)
	return o
}

// Run starts the loop, the dispatch worker, and the change watcher, and blocks
// until ctx is cancelled (or the source ends with [WithExitOnSourceEnd]).
func (o *Orchestrator) Run(ctx context.Context) error {
	loopDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.watchChanges(gctx, loopDone)
		return nil
	})
	g.Go(func() error {
		return o.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		defer close(loopDone)
		defer o.dispatcher.Close()
		return o.loop(gctx)
	})
	return g.Wait()
}

// SetManualListening turns the push-to-talk session on or off and persists
// the choice. Turning it off flushes what the session captured so far as one
// utterance. Setting the current value again does nothing.
func (o *Orchestrator) SetManualListening(enabled bool) error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	u, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("capture: load user config: %w", err)
	}
	if u.ManualListening == enabled {
		return nil
	}
	if !enabled && u.ManualMode() {
		o.pendingStop.Store(true)
	}
	u.ManualListening = enabled
	if err := o.store.Save(u); err != nil {
		return fmt.Errorf("capture: save manual listening: %w", err)
	}
	o.dirty.Store(true)

	slog.Info("capture: manual listening changed", "enabled", enabled)
	o.sink.SetListening(u.ListeningEnabled())
	o.sink.SetPhase(status.IdlePhase(u.ListeningEnabled()))
	return nil
}

// RequestInterrupt advances the interrupt generation, which cancels the
// utterance currently being handled and marks its results stale. It returns
// the new generation.
func (o *Orchestrator) RequestInterrupt() uint64 {
	gen := o.gen.Interrupt()
	o.metrics.Interrupts.Add(context.Background(), 1)
	slog.Info("capture: interrupt requested", "generation", gen)
	o.sink.SetPhase(status.IdlePhase(o.listening.Load()))
	return gen
}

// Listening reports whether the capture device is meant to be open.
func (o *Orchestrator) Listening() bool { return o.listening.Load() }

// Generation returns the interrupt counter shared with consumers.
func (o *Orchestrator) Generation() *Generation { return o.gen }

// QueueDepth returns the number of utterances waiting for the consumer.
func (o *Orchestrator) QueueDepth() int { return o.dispatcher.Pending() }

// LastIteration returns when the loop last started an iteration, or the zero
// time if it has not run.
func (o *Orchestrator) LastIteration() time.Time {
	ns := o.lastIter.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// loopState is owned by the loop goroutine.
type loopState struct {
	cfg       config.UserConfig
	sess      *session
	stream    audio.Stream
	lastCheck time.Time
	readFails int

	statsSince  time.Time
	statsFrames int
	statsSpeech int
}

func (o *Orchestrator) loop(ctx context.Context) error {
	st := &loopState{statsSince: time.Now()}
	cfg, err := o.store.Load()
	if err != nil {
		slog.Warn("capture: load user config failed, using defaults", "err", err)
		cfg = config.DefaultUserConfig()
	}
	st.cfg = cfg
	st.sess = newSession(cfg, o.vads)
	st.lastCheck = time.Now()
	o.setListening(cfg.ListeningEnabled())

	defer func() {
		o.closeStream(st)
		st.sess.close()
		o.setListening(false)
	}()

	samples := make([]int16, audio.FrameSamples)
	var pcm []byte

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := time.Now()
		o.lastIter.Store(now.UnixNano())

		if o.pendingStop.Swap(false) {
			if u := st.sess.flush(); u != nil {
				o.dispatch(ctx, u, st.cfg, SourceManualStop)
			}
		}

		if o.dirty.Swap(false) || now.Sub(st.lastCheck) >= o.checkInterval {
			st.lastCheck = now
			o.reload(ctx, st)
		}

		if !st.cfg.ListeningEnabled() {
			o.closeStream(st)
			sleep(ctx, o.idleDelay)
			continue
		}

		if st.stream == nil {
			s, err := o.dev.Open(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("capture: device open failed", "err", err)
				o.metrics.RecordDeviceError(ctx, "open")
				sleep(ctx, o.idleDelay)
				continue
			}
			st.stream = s
			slog.Info("capture: device opened", "manual", st.sess.manual)
		}

		n, err := st.stream.ReadFrame(ctx, samples)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, audio.ErrWouldBlock):
				sleep(ctx, o.retryDelay)
			case errors.Is(err, audio.ErrClosed):
				if u := st.sess.seg.ForceEmitPending(); u != nil {
					o.dispatch(ctx, u, st.cfg, SourceEnd)
				}
				o.closeStream(st)
				if o.exitOnEnd {
					slog.Info("capture: source ended")
					return nil
				}
				sleep(ctx, o.idleDelay)
			default:
				if st.readFails == 0 {
					slog.Warn("capture: device read failed", "err", err)
				}
				st.readFails++
				o.metrics.RecordDeviceError(ctx, "read")
				sleep(ctx, o.retryDelay)
			}
			continue
		}
		if st.readFails > 0 {
			slog.Info("capture: device read recovered", "failures", st.readFails)
			st.readFails = 0
		}
		if n < audio.FrameSamples {
			continue
		}

		pcm = audio.SamplesToBytes(pcm, samples)
		res := st.sess.process(samples, pcm)

		o.metrics.RecordFrame(ctx, res.speech)
		o.sink.Level(res.levels.Peak)
		o.sink.Tick()
		o.logStats(st, res, now)

		if res.stop {
			slog.Info("capture: manual session ended by silence")
			o.pendingStop.Store(true)
			if err := o.SetManualListening(false); err != nil {
				slog.Warn("capture: persist manual stop failed", "err", err)
			}
		}
		if res.utterance != nil {
			o.dispatch(ctx, res.utterance, st.cfg, SourceSegmenter)
		}
	}
}

// reload compares the stored preferences against the loop's copy and rebuilds
// the session when needed.
func (o *Orchestrator) reload(ctx context.Context, st *loopState) {
	next, err := o.store.Load()
	if err != nil {
		slog.Warn("capture: reload user config failed", "err", err)
		return
	}
	d := config.DiffUser(st.cfg, next)
	if !d.Any() {
		st.cfg = next
		st.sess.cfg = next
		return
	}

	slog.Info("capture: user config changed",
		"listening", next.ListeningEnabled(),
		"manual", next.ManualMode(),
		"rebuild", d.RebuildSession(),
	)

	switch {
	case d.ManualStopped && st.sess.manual:
		if u := st.sess.flush(); u != nil {
			o.dispatch(ctx, u, st.cfg, SourceManualStop)
		}
	case d.ListeningChanged && !next.ListeningEnabled():
		// A held utterance already passed its checks; an unfinished
		// capture is dropped with the session.
		if u := st.sess.takePending(); u != nil {
			o.dispatch(ctx, u, st.cfg, SourceSegmenter)
		}
	}
	if d.RebuildSession() {
		st.sess.close()
		st.sess = newSession(next, o.vads)
		o.metrics.SessionRebuilds.Add(ctx, 1)
	} else {
		st.sess.cfg = next
	}
	st.cfg = next
	o.setListening(next.ListeningEnabled())
}

func (o *Orchestrator) dispatch(ctx context.Context, u *segment.Utterance, cfg config.UserConfig, source string) {
	job := Job{
		ID:        uuid.NewString(),
		Utterance: *u,
		Config:    cfg,
		Source:    source,
		Captured:  time.Now(),
	}
	o.metrics.RecordUtterance(ctx, source)
	slog.Info("capture: utterance emitted",
		"id", job.ID,
		"source", source,
		"duration", u.Duration(),
		"speech_ratio", u.SpeechRatio(),
	)
	if !o.dispatcher.Enqueue(job) {
		slog.Warn("capture: dispatcher closed, utterance dropped", "id", job.ID)
	}
}

func (o *Orchestrator) setListening(enabled bool) {
	if o.listening.Swap(enabled) == enabled {
		return
	}
	delta := int64(-1)
	if enabled {
		delta = 1
	}
	o.metrics.Listening.Add(context.Background(), delta)
	o.sink.SetListening(enabled)
	o.sink.SetPhase(status.IdlePhase(enabled))
}

func (o *Orchestrator) closeStream(st *loopState) {
	if st.stream == nil {
		return
	}
	if err := st.stream.Close(); err != nil {
		slog.Warn("capture: device close failed", "err", err)
	}
	st.stream = nil
	slog.Info("capture: device closed")
}

func (o *Orchestrator) logStats(st *loopState, res step, now time.Time) {
	st.statsFrames++
	if res.speech {
		st.statsSpeech++
	}
	elapsed := now.Sub(st.statsSince)
	if elapsed < statsInterval {
		return
	}
	slog.Debug("capture: loop stats",
		"fps", float64(st.statsFrames)/elapsed.Seconds(),
		"speech_frames", st.statsSpeech,
		"manual", st.sess.manual,
		"peak", res.levels.Peak,
		"rms_dbfs", res.levels.RMSDBFS,
		"noise_floor", st.sess.gate.NoiseFloor(),
	)
	st.statsSince = now
	st.statsFrames = 0
	st.statsSpeech = 0
}

// watchChanges turns store change signals into the dirty flag.
func (o *Orchestrator) watchChanges(ctx context.Context, done <-chan struct{}) {
	changes := o.store.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			o.dirty.Store(true)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type nopSink struct{}

func (nopSink) SetListening(bool)     {}
func (nopSink) SetPhase(status.Phase) {}
func (nopSink) Level(int)             {}
func (nopSink) Tick()                 {}
