// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	text, _ := tr.Transcribe(ctx, stt.Request{Audio: wav})
package mock

import (
	"context"
	"sync"

	"github.com/simpletutor/voicefront/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, is called instead of returning Text/Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (string, error)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	m.mu.Lock()
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Req: req})
	fn, text, err := m.TranscribeFunc, m.Text, m.Err
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return text, err
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranscribeCall(nil), m.TranscribeCalls...)
}

var _ stt.Transcriber = (*Transcriber)(nil)
