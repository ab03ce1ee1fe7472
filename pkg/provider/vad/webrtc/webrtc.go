// Package webrtc provides a [vad.Factory] backed by the WebRTC voice activity
// detector via github.com/hackers365/go-webrtcvad (cgo).
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hackers365/go-webrtcvad"

	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

// Factory creates WebRTC classifiers for 16 kHz mono frames.
type Factory struct{}

// New returns a WebRTC classifier factory.
func New() *Factory { return &Factory{} }

var _ vad.Factory = (*Factory)(nil)

// NewClassifier implements [vad.Factory].
func (f *Factory) NewClassifier(mode vad.Mode) (vad.Classifier, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("webrtc vad: invalid mode %d", int(mode))
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create instance: %w", err)
	}
	if v == nil {
		return nil, errors.New("webrtc vad: create instance: nil detector")
	}
	if err := v.SetMode(int(mode)); err != nil {
		webrtcvad.Free(v)
		return nil, fmt.Errorf("webrtc vad: set mode %s: %w", mode, err)
	}
	return &classifier{vad: v}, nil
}

type classifier struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// IsSpeech implements [vad.Classifier].
func (c *classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vad == nil {
		return false, errors.New("webrtc vad: classifier closed")
	}
	if len(frame) != audio.FrameBytes {
		return false, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), audio.FrameBytes)
	}
	speech, err := c.vad.Process(audio.SampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return speech, nil
}

// Close implements [vad.Classifier].
func (c *classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vad != nil {
		webrtcvad.Free(c.vad)
		c.vad = nil
	}
	return nil
}
