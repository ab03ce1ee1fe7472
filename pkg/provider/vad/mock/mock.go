// Package mock provides test doubles for the vad package interfaces.
//
// Use Factory to verify that classifiers are created with the expected Mode.
// Use Classifier to script speech decisions and inspect the frames that were
// submitted for classification.
//
// Example:
//
//	cls := &mock.Classifier{Decide: func(frame []byte) bool { return frame[0] != 0 }}
//	f := &mock.Factory{Classifier: cls}
//	c, _ := f.NewClassifier(vad.ModeAggressive)
package mock

import (
	"sync"

	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

// Factory is a mock implementation of vad.Factory.
type Factory struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, each call returns a new
	// Classifier that reports every frame as speech.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned as the error from NewClassifier.
	NewClassifierErr error

	// Modes records the mode of every NewClassifier call in order.
	Modes []vad.Mode
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (f *Factory) NewClassifier(mode vad.Mode) (vad.Classifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Modes = append(f.Modes, mode)
	if f.NewClassifierErr != nil {
		return nil, f.NewClassifierErr
	}
	if f.Classifier != nil {
		return f.Classifier, nil
	}
	return &Classifier{Result: true}, nil
}

// Calls returns a copy of the recorded modes. Thread-safe.
func (f *Factory) Calls() []vad.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vad.Mode(nil), f.Modes...)
}

// Ensure Factory implements vad.Factory at compile time.
var _ vad.Factory = (*Factory)(nil)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Result is returned by IsSpeech when Decide is nil.
	Result bool

	// Decide, if set, computes the decision for each frame.
	Decide func(frame []byte) bool

	// Err, if non-nil, is returned by every IsSpeech call.
	Err error

	// --- Call records ---

	// Frames counts IsSpeech calls.
	Frames int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// IsSpeech records the call and returns the scripted decision.
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames++
	if c.Err != nil {
		return false, c.Err
	}
	if c.Decide != nil {
		return c.Decide(frame), nil
	}
	return c.Result, nil
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
