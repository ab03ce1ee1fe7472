// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Stream], and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	dev.Push(loudFrame, loudFrame, quietFrame)
//	o := capture.New(dev, vadFactory, store, consumer)
//	go o.Run(ctx)
//	<-dev.Drained()
package mock

import (
	"context"
	"sync"

	"github.com/simpletutor/voicefront/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Frames queued with
// [Device.Push] are shared by every stream the device opens, so a stream that
// is closed and reopened continues where the previous one stopped.
type Device struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// ReadError, when non-nil, is returned by ReadFrame once the queue is
	// empty instead of [audio.ErrWouldBlock].
	ReadError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many streams were closed.
	CallCountClose int

	// FramesRead records how many frames were delivered across all streams.
	FramesRead int

	queue   [][]int16
	drained chan struct{}
	open    *Stream
}

// Push appends frames to the playback queue. Each frame is delivered by one
// ReadFrame call; frames are copied so callers may reuse their slices.
func (d *Device) Push(frames ...[]int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range frames {
		d.queue = append(d.queue, append([]int16(nil), f...))
	}
	if d.drained != nil && len(frames) > 0 {
		select {
		case <-d.drained:
			d.drained = make(chan struct{})
		default:
		}
	}
}

// Drained returns a channel that is closed once every pushed frame has been
// read. Pushing more frames re-arms it; call Drained again afterwards.
func (d *Device) Drained() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drained == nil {
		d.drained = make(chan struct{})
		if len(d.queue) == 0 {
			close(d.drained)
		}
	}
	return d.drained
}

// IsOpen reports whether a stream is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open != nil
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := &Stream{dev: d}
	d.open = s
	return s, nil
}

// Stats returns a snapshot of the call counters.
func (d *Device) Stats() (opens, closes, frames int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen, d.CallCountClose, d.FramesRead
}

// next pops one frame. The caller must hold d.mu.
func (d *Device) next() ([]int16, bool) {
	if len(d.queue) == 0 {
		return nil, false
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	d.FramesRead++
	if len(d.queue) == 0 && d.drained != nil {
		select {
		case <-d.drained:
		default:
			close(d.drained)
		}
	}
	return f, true
}

var _ audio.Device = (*Device)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is the [audio.Stream] returned by [Device.Open].
type Stream struct {
	dev    *Device
	closed bool
}

// ReadFrame implements [audio.Stream].
func (s *Stream) ReadFrame(ctx context.Context, dst []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed {
		return 0, audio.ErrClosed
	}
	f, ok := d.next()
	if !ok {
		if d.ReadError != nil {
			return 0, d.ReadError
		}
		return 0, audio.ErrWouldBlock
	}
	return copy(dst, f), nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	d.CallCountClose++
	if d.open == s {
		d.open = nil
	}
	return nil
}

var _ audio.Stream = (*Stream)(nil)

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	// PCM is the audio passed to Play.
	PCM []byte
	// SampleRate is the sample rate passed to Play.
	SampleRate int
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// Block makes Play wait until its context is cancelled, simulating a long
	// reply that gets interrupted.
	Block bool

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// Cancelled counts Play calls that returned because ctx was cancelled.
	Cancelled int
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{PCM: append([]byte(nil), pcm...), SampleRate: sampleRate})
	block, err := p.Block, p.PlayError
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		p.mu.Lock()
		p.Cancelled++
		p.mu.Unlock()
		return ctx.Err()
	}
	return err
}

// Calls returns a copy of the recorded Play invocations.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.PlayCalls...)
}

var _ audio.Player = (*Player)(nil)
