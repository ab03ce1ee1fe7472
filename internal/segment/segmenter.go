// Package segment turns a stream of per-frame speech decisions into discrete
// utterances.
//
// The [Segmenter] is a three-phase state machine:
//
//	Idle ──nOn speech frames──▶ Capturing ──nOff silent frames──▶ PendingMerge
//	  ▲                            ▲                                  │
//	  │                            └──speech within the merge gap─────┤
//	  └────────────────emit once the merge gap expires────────────────┘
//
// Hysteresis on both edges suppresses single-frame flicker. A finished
// utterance is held in PendingMerge so that a short breath pause does not split
// one sentence into two. Utterances that are too short or mostly silent are
// discarded when they are finalized, before the merge window opens, so a
// rejected fragment is never rescued by a later burst.
//
// Push-to-talk sessions use [Config.DeferFinalizeOnEnd]: end detection only
// raises a flag ([Segmenter.ConsumeEndDetected]) and the caller flushes the
// buffer explicitly with [Segmenter.ForceEmitBuffer].
//
// A Segmenter is owned by the capture loop and is not safe for concurrent use.
package segment

import (
	"time"

	"github.com/simpletutor/voicefront/pkg/audio"
)

// Phase is the segmenter state.
type Phase int

const (
	// Idle means no utterance is in progress.
	Idle Phase = iota
	// Capturing means frames are being buffered into a candidate utterance.
	Capturing
	// PendingMerge means a finished utterance is held until the merge gap
	// expires or speech resumes.
	PendingMerge
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case PendingMerge:
		return "pending_merge"
	default:
		return "unknown"
	}
}

// Config holds the segmenter thresholds. The zero value of each flag is the
// always-on behaviour.
type Config struct {
	// FrameMs is the frame duration. Zero means [audio.FrameMs].
	FrameMs int

	// NOn consecutive speech frames start an utterance. Values below 1 are
	// treated as 1.
	NOn int

	// NOff consecutive silent frames end an utterance. Values below 1 are
	// treated as 1.
	NOff int

	// MinUtterMs and MinSpeechRatio reject short or mostly silent utterances.
	MinUtterMs     int
	MinSpeechRatio float64

	// MergeGapMs is the longest pause after which speech is still appended to
	// the previous utterance.
	MergeGapMs int

	// AllowShortUtterances disables the MinUtterMs and MinSpeechRatio checks.
	AllowShortUtterances bool

	// CaptureAllFrames buffers every frame while capturing, including leading
	// silence.
	CaptureAllFrames bool

	// AllowEndWithoutSpeech lets silence end a capture that never saw a speech
	// frame, e.g. one opened with ForceStart.
	AllowEndWithoutSpeech bool

	// DeferFinalizeOnEnd makes end detection return to Idle without
	// finalizing. The buffer is kept for ForceEmitBuffer.
	DeferFinalizeOnEnd bool
}

// Utterance is one finished segment of captured audio.
type Utterance struct {
	// PCM is mono little-endian PCM16 at [audio.SampleRate].
	PCM []byte

	// SpeechFrames and TotalFrames count the frames seen while capturing.
	// TotalFrames may exceed the frames held in PCM when leading silence was
	// not buffered.
	SpeechFrames int
	TotalFrames  int
}

// Duration returns the playback length of PCM.
func (u Utterance) Duration() time.Duration {
	return audio.DurationOf(u.PCM, audio.SampleRate)
}

// SpeechRatio returns SpeechFrames/TotalFrames, or 0 for an empty span.
func (u Utterance) SpeechRatio() float64 {
	if u.TotalFrames <= 0 {
		return 0
	}
	return float64(u.SpeechFrames) / float64(u.TotalFrames)
}

// span is a buffer with its frame counts.
type span struct {
	pcm          []byte
	speechFrames int
	totalFrames  int
}

// Segmenter is the endpointing state machine.
type Segmenter struct {
	cfg Config

	phase         Phase
	speechStreak  int
	silenceStreak int
	hasSpeech     bool
	endDetected   bool

	active  span
	pending span
	gap     int
}

// New returns an Idle segmenter.
func New(cfg Config) *Segmenter {
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = audio.FrameMs
	}
	cfg.NOn = max(cfg.NOn, 1)
	cfg.NOff = max(cfg.NOff, 1)
	return &Segmenter{cfg: cfg}
}

// Phase returns the current phase.
func (s *Segmenter) Phase() Phase { return s.phase }

// Config returns the thresholds in effect after normalisation.
func (s *Segmenter) Config() Config { return s.cfg }

// Process consumes one frame and its gated speech decision. It returns an
// utterance when a held utterance's merge window expires on this frame, and
// nil otherwise. frame is copied.
func (s *Segmenter) Process(isSpeech bool, frame []byte) *Utterance {
	switch s.phase {
	case PendingMerge:
		if !isSpeech || s.gap*s.cfg.FrameMs >= s.cfg.MergeGapMs {
			s.gap++
			if s.gap*s.cfg.FrameMs >= s.cfg.MergeGapMs {
				u := s.pending.utterance()
				s.clearPending()
				s.phase = Idle
				return u
			}
			return nil
		}
		s.resume()
		s.accumulate(isSpeech, frame)
		return nil

	case Idle:
		if !isSpeech {
			s.speechStreak = 0
			return nil
		}
		s.speechStreak++
		s.silenceStreak = 0
		if s.speechStreak >= s.cfg.NOn {
			s.start()
			s.accumulate(isSpeech, frame)
		}
		return nil

	case Capturing:
		if isSpeech {
			s.speechStreak++
			s.silenceStreak = 0
		} else {
			s.speechStreak = 0
			if s.hasSpeech || s.cfg.AllowEndWithoutSpeech {
				s.silenceStreak++
				if s.silenceStreak >= s.cfg.NOff {
					s.end()
					return nil
				}
			}
		}
		s.accumulate(isSpeech, frame)
		return nil
	}
	return nil
}

// ForceStart moves an Idle segmenter straight to Capturing, bypassing the
// NOn hysteresis. It does nothing in any other phase.
func (s *Segmenter) ForceStart() {
	if s.phase == Idle {
		s.start()
	}
}

// ForceEmitBuffer returns whatever the active buffer holds, ignoring the
// duration and ratio thresholds, and resets to Idle. Any held utterance is
// dropped. It returns nil when the buffer is empty.
func (s *Segmenter) ForceEmitBuffer() *Utterance {
	var u *Utterance
	if len(s.active.pcm) > 0 {
		u = s.active.utterance()
	}
	s.clearPending()
	s.reset()
	return u
}

// ForceEmitPending flushes the segmenter. It returns the held utterance if
// there is one, otherwise the active buffer when it contains speech (or the
// session captures every frame), and resets to Idle.
func (s *Segmenter) ForceEmitPending() *Utterance {
	var u *Utterance
	switch {
	case len(s.pending.pcm) > 0:
		u = s.pending.utterance()
	case len(s.active.pcm) > 0 && (s.hasSpeech || s.cfg.CaptureAllFrames || s.cfg.AllowEndWithoutSpeech):
		u = s.active.utterance()
	}
	s.clearPending()
	s.reset()
	return u
}

// ConsumeEndDetected reports whether silence ended a capture since the last
// call, and clears the flag.
func (s *Segmenter) ConsumeEndDetected() bool {
	v := s.endDetected
	s.endDetected = false
	return v
}

// start opens a fresh capture span.
func (s *Segmenter) start() {
	s.phase = Capturing
	s.active = span{}
	s.silenceStreak = 0
	s.hasSpeech = false
}

// resume moves the held utterance back into the active buffer. The speech
// streak is preset so the merged span does not need to re-trigger.
func (s *Segmenter) resume() {
	s.active = s.pending
	s.pending = span{}
	s.phase = Capturing
	s.speechStreak = s.cfg.NOn
	s.silenceStreak = 0
	s.gap = 0
}

// end handles NOff consecutive silent frames.
func (s *Segmenter) end() {
	s.endDetected = true
	if s.cfg.DeferFinalizeOnEnd {
		s.phase = Idle
		s.speechStreak = 0
		s.silenceStreak = 0
		return
	}
	if sp, ok := s.finalize(); ok {
		s.pending = sp
		s.gap = 0
		s.phase = PendingMerge
	}
}

// finalize closes the active span, resetting to Idle, and reports whether it
// qualifies as an utterance.
func (s *Segmenter) finalize() (span, bool) {
	sp := s.active
	s.reset()

	if !s.cfg.AllowShortUtterances {
		if sp.totalFrames*s.cfg.FrameMs < s.cfg.MinUtterMs {
			return span{}, false
		}
		ratio := 0.0
		if sp.totalFrames > 0 {
			ratio = float64(sp.speechFrames) / float64(sp.totalFrames)
		}
		if ratio < s.cfg.MinSpeechRatio {
			return span{}, false
		}
	}
	if len(sp.pcm) == 0 {
		return span{}, false
	}
	return sp, true
}

func (s *Segmenter) accumulate(isSpeech bool, frame []byte) {
	s.active.totalFrames++
	if isSpeech {
		s.active.speechFrames++
		s.hasSpeech = true
	}
	if s.cfg.CaptureAllFrames || s.hasSpeech {
		s.active.pcm = append(s.active.pcm, frame...)
	}
}

func (s *Segmenter) reset() {
	s.phase = Idle
	s.speechStreak = 0
	s.silenceStreak = 0
	s.hasSpeech = false
	s.active = span{}
}

func (s *Segmenter) clearPending() {
	s.pending = span{}
	s.gap = 0
}

func (sp span) utterance() *Utterance {
	return &Utterance{PCM: sp.pcm, SpeechFrames: sp.speechFrames, TotalFrames: sp.totalFrames}
}
