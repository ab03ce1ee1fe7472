package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/simpletutor/voicefront/pkg/audio"
)

// tailDrain is how long Play keeps the device running after the last sample
// was handed to miniaudio.
const tailDrain = 5 * audio.FrameDuration

// Player plays mono PCM16 through the default output device. Each Play call
// opens and releases its own playback device.
type Player struct{}

// NewPlayer returns a speaker-backed [audio.Player].
func NewPlayer() *Player { return &Player{} }

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player]. It returns once pcm has been fully rendered
// or ctx is cancelled.
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) < 2 {
		return nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	var (
		mu       sync.Mutex
		offset   int
		done     = make(chan struct{})
		doneOnce sync.Once
	)
	onSend := func(out, _ []byte, _ uint32) {
		mu.Lock()
		n := copy(out, pcm[offset:])
		offset += n
		finished := offset >= len(pcm)
		mu.Unlock()
		clear(out[n:])
		if finished {
			doneOnce.Do(func() { close(done) })
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return fmt.Errorf("malgo: init playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo: start playback device: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		// Let the last period drain before the device is stopped.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tailDrain):
		}
		return nil
	}
}
