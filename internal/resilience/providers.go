package resilience

import (
	"context"

	"github.com/simpletutor/voicefront/pkg/provider/llm"
	"github.com/simpletutor/voicefront/pkg/provider/stt"
	"github.com/simpletutor/voicefront/pkg/provider/tts"
)

// The provider fallbacks below adapt a [FallbackGroup] to each pipeline stage's
// interface so the tutor pipeline can use them in place of a single backend.
// Each also satisfies health.Availability through the embedded group.

// STTFallback is an [stt.Transcriber] that fails over between transcribers.
type STTFallback struct {
	*FallbackGroup[stt.Transcriber]
}

// LLMFallback is an [llm.Provider] that fails over between chat backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

// TTSFallback is a [tts.Provider] that fails over between synthesizers. The
// requested voice is passed to every backend unchanged; one that does not
// know it falls back to its own default.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var (
	_ stt.Transcriber = (*STTFallback)(nil)
	_ llm.Provider    = (*LLMFallback)(nil)
	_ tts.Provider    = (*TTSFallback)(nil)
)

// NewSTTFallback returns an [STTFallback] whose preferred backend is primary.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// NewLLMFallback returns an [LLMFallback] whose preferred backend is primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// NewTTSFallback returns a [TTSFallback] whose preferred backend is primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe implements [stt.Transcriber].
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, req)
	})
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
