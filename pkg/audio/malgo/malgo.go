// Package malgo implements [audio.Device] and [audio.Player] on top of the
// miniaudio bindings in github.com/gen2brain/malgo, giving voicefront access
// to the host's default microphone and speaker.
//
// Each opened stream owns its own miniaudio context so that closing the
// stream releases the microphone completely (the OS privacy indicator goes
// off while listening is disabled).
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/simpletutor/voicefront/pkg/audio"
)

// defaultBacklog is how many frames a capture stream buffers before dropping
// the oldest one.
const defaultBacklog = 50

// Option configures a [Device].
type Option func(*Device)

// WithBacklog sets the number of frames buffered between the audio callback
// and ReadFrame. Values below 1 are ignored.
func WithBacklog(frames int) Option {
	return func(d *Device) {
		if frames > 0 {
			d.backlog = frames
		}
	}
}

// Device captures mono PCM16 at [audio.SampleRate] from the default input
// device.
type Device struct {
	backlog int
}

// New returns a capture device for the system default microphone.
func New(opts ...Option) *Device {
	d := &Device{backlog: defaultBacklog}
	for _, o := range opts {
		o(d)
	}
	return d
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device]. It initialises a miniaudio context and
// starts a capture device; both are released by the stream's Close.
func (d *Device) Open(_ context.Context) (audio.Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &stream{
		mctx:   mctx,
		frames: make(chan []int16, d.backlog),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = audio.SampleRate
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.releaseContext()
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.releaseContext()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	return s, nil
}

type stream struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	// pending is only touched from the miniaudio callback thread.
	pending []int16
	frames  chan []int16

	closeOnce sync.Once
}

// onData slices incoming samples into whole frames. When the reader falls
// behind the oldest buffered frame is dropped.
func (s *stream) onData(_, in []byte, framecount uint32) {
	n := int(framecount) * audio.Channels
	if n*2 > len(in) {
		n = len(in) / 2
	}
	for i := range n {
		s.pending = append(s.pending, int16(binary.LittleEndian.Uint16(in[i*2:])))
	}
	for len(s.pending) >= audio.FrameSamples {
		frame := make([]int16, audio.FrameSamples)
		copy(frame, s.pending[:audio.FrameSamples])
		s.pending = append(s.pending[:0], s.pending[audio.FrameSamples:]...)
		for {
			select {
			case s.frames <- frame:
			default:
				select {
				case <-s.frames:
				default:
				}
				continue
			}
			break
		}
	}
}

// ReadFrame implements [audio.Stream]. It waits up to two frame durations for
// the next frame before returning [audio.ErrWouldBlock].
func (s *stream) ReadFrame(ctx context.Context, dst []int16) (int, error) {
	t := time.NewTimer(2 * audio.FrameDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return 0, audio.ErrClosed
		}
		return copy(dst, frame), nil
	case <-t.C:
		return 0, audio.ErrWouldBlock
	}
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.dev != nil {
			if serr := s.dev.Stop(); serr != nil {
				err = fmt.Errorf("malgo: stop capture device: %w", serr)
			}
			s.dev.Uninit()
		}
		s.releaseContext()
		close(s.frames)
	})
	return err
}

func (s *stream) releaseContext() {
	_ = s.mctx.Uninit()
	s.mctx.Free()
}
