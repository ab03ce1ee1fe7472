// Package vad defines the Classifier interface for frame-level voice activity
// detection backends.
//
// A classifier wraps a detector such as WebRTC VAD and answers one question
// per frame: does this frame contain speech? It is a black box to the
// endpointing core, which layers its own loudness gating and hysteresis on top
// of the raw decision.
//
// Frames are raw little-endian mono PCM16 at 16 kHz, 20 ms long (see
// [audio.FrameBytes]). Classifiers are stateful and owned by a single
// goroutine; a [Factory] creates a fresh one each time the capture session is
// rebuilt.
//
// [audio.FrameBytes]: github.com/simpletutor/voicefront/pkg/audio.FrameBytes
package vad

import (
	"fmt"
	"strings"
)

// Mode is the classifier aggressiveness. Higher modes reject more non-speech
// at the cost of clipping quiet speech.
type Mode int

const (
	// ModeQuality is the least aggressive mode.
	ModeQuality Mode = iota

	// ModeLowBitrate is slightly more aggressive than ModeQuality.
	ModeLowBitrate

	// ModeAggressive rejects most background noise.
	ModeAggressive

	// ModeVeryAggressive is the most aggressive mode.
	ModeVeryAggressive
)

var modeNames = [...]string{
	ModeQuality:        "quality",
	ModeLowBitrate:     "low_bitrate",
	ModeAggressive:     "aggressive",
	ModeVeryAggressive: "very_aggressive",
}

// String returns the configuration name of m.
func (m Mode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	return m >= ModeQuality && m <= ModeVeryAggressive
}

// ParseMode parses a mode name as written in configuration files. Matching is
// case-insensitive and accepts dashes in place of underscores.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range modeNames {
		if name == norm {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("vad: unknown mode %q", s)
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("vad: invalid mode %d", int(m))
	}
	return []byte(modeNames[m]), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Classifier makes a binary speech decision for each frame.
//
// A Classifier is not safe for concurrent use.
type Classifier interface {
	// IsSpeech reports whether frame contains speech. An error means the frame
	// could not be classified (wrong size, backend failure); callers treat it
	// as non-speech.
	IsSpeech(frame []byte) (bool, error)

	// Close releases the classifier. Calling Close more than once is safe.
	Close() error
}

// Factory creates classifiers. Implementations must be safe for concurrent
// use.
type Factory interface {
	// NewClassifier returns a classifier configured with mode.
	NewClassifier(mode Mode) (Classifier, error)
}
