package audio

import (
	"context"
	"errors"
)

// ErrWouldBlock is returned by [Stream.ReadFrame] when no complete frame
// arrived within the stream's read window. Callers should idle briefly and
// retry; it is not a device failure.
var ErrWouldBlock = errors.New("audio: no frame available")

// ErrClosed is returned by [Stream.ReadFrame] after the stream was closed or
// the underlying source was exhausted.
var ErrClosed = errors.New("audio: stream closed")

// Device is a capture source that can be opened and closed repeatedly. The
// capture orchestrator is the only caller; it opens the device when listening
// becomes enabled and closes it when listening is disabled.
type Device interface {
	// Open starts capture and returns the live stream. ctx bounds the open
	// attempt only.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture session delivering fixed-size frames of mono
// PCM16 at [SampleRate].
//
// A Stream is owned by a single goroutine; implementations need not support
// concurrent ReadFrame calls.
type Stream interface {
	// ReadFrame fills dst (len FrameSamples) with the next frame and returns
	// the number of samples written. It blocks for at most roughly one frame
	// cadence and returns [ErrWouldBlock] when no frame is ready yet.
	ReadFrame(ctx context.Context, dst []int16) (int, error)

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Player plays mono PCM16 audio, used for synthesized tutor replies.
type Player interface {
	// Play blocks until pcm has been played or ctx is cancelled, in which case
	// playback stops early and ctx.Err() is returned.
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}
