// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one tutor reply into mono PCM16 audio ready for an
// [audio.Player]. Replies are short, so synthesis is a single request rather
// than a stream.
//
// Implementations must be safe for concurrent use.
//
// [audio.Player]: github.com/simpletutor/voicefront/pkg/audio.Player
package tts

import "context"

// Audio is synthesized speech.
type Audio struct {
	// PCM is mono little-endian 16-bit PCM.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the named voice. An empty voice selects the
	// provider default. It must return promptly when ctx is cancelled.
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}
