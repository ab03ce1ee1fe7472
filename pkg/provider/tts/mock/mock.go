// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: tts.Audio{PCM: pcm, SampleRate: 24000}}
//	out, _ := p.Synthesize(ctx, "hello", "alloy")
package mock

import (
	"context"
	"sync"

	"github.com/simpletutor/voicefront/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize.
	Result tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeFunc, if set, is called instead of returning Result/Err.
	SynthesizeFunc func(ctx context.Context, text, voice string) (tts.Audio, error)

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn, res, err := p.SynthesizeFunc, p.Result, p.Err
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, text, voice)
	}
	return res, err
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

var _ tts.Provider = (*Provider)(nil)
