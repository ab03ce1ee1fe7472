// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// Utterances reach the transcriber as complete WAV files: endpointing already
// happened upstream, so a batch transcription API is all that is needed.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request is one utterance to transcribe.
type Request struct {
	// Audio is a complete WAV file (mono PCM16).
	Audio []byte

	// Language is an optional BCP-47 or ISO-639-1 hint. Empty lets the
	// provider auto-detect.
	Language string

	// Prompt biases recognition, e.g. "English or Japanese".
	Prompt string
}

// Transcriber turns one utterance into text.
type Transcriber interface {
	// Transcribe returns the recognised text, which may be empty when the
	// audio held no intelligible speech. It must return promptly when ctx is
	// cancelled.
	Transcribe(ctx context.Context, req Request) (string, error)
}
