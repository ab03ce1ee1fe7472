package capture

import (
	"log/slog"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/gate"
	"github.com/simpletutor/voicefront/internal/segment"
	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

// session is the per-configuration capture state. It is rebuilt wholesale
// whenever a threshold, the classifier mode, or the listening style changes.
// Only the loop goroutine touches it.
type session struct {
	cfg    config.UserConfig
	manual bool

	gate       *gate.Gate
	seg        *segment.Segmenter
	classifier vad.Classifier

	manualStarted bool
	manualSilence int
}

// step is the outcome of feeding one frame to a session.
type step struct {
	utterance *segment.Utterance
	levels    gate.Levels
	speech    bool

	// stop asks the orchestrator to end the manual session.
	stop bool
}

func newSession(u config.UserConfig, factory vad.Factory) *session {
	var classifier vad.Classifier
	if factory != nil {
		c, err := factory.NewClassifier(u.Mode)
		if err != nil {
			slog.Warn("capture: classifier unavailable, gating on loudness only", "mode", u.Mode, "err", err)
		} else {
			classifier = c
		}
	}
	manual := u.ManualMode()
	return &session{
		cfg:        u,
		manual:     manual,
		gate:       gate.New(u, classifier),
		seg:        segment.New(segmentConfig(u, manual)),
		classifier: classifier,
	}
}

// segmentConfig maps user preferences to segmenter settings. A manual session
// keeps everything between start and stop, so the length and ratio checks are
// off and end detection only marks the end without finalizing.
func segmentConfig(u config.UserConfig, manual bool) segment.Config {
	c := segment.Config{
		FrameMs:        audio.FrameMs,
		NOn:            u.NOn,
		NOff:           u.NOff,
		MinUtterMs:     u.MinUtterMs,
		MinSpeechRatio: u.MinSpeechRatio,
		MergeGapMs:     u.MergeGapMs,
	}
	if manual {
		c.NOn = 1
		c.MinUtterMs = 0
		c.MinSpeechRatio = 0
		c.AllowShortUtterances = true
		c.CaptureAllFrames = true
		c.DeferFinalizeOnEnd = true
	}
	return c
}

// process runs one full frame through the gate and the segmenter. In a manual
// session the gate is bypassed and every frame counts as speech; the levels
// are still measured for auto-end detection.
func (s *session) process(samples []int16, pcm []byte) step {
	var st step
	if s.manual {
		if !s.manualStarted {
			s.seg.ForceStart()
			s.manualStarted = true
		}
		st.levels = gate.Measure(samples)
		st.speech = true
	} else {
		d := s.gate.Evaluate(samples, pcm)
		st.levels = d.Levels
		st.speech = d.Speech
	}

	st.utterance = s.seg.Process(st.speech, pcm)

	// A manual session ends on the raw loudness counter below. Every manual
	// frame counts as speech, so the segmenter's end flag carries nothing
	// and is only cleared.
	s.seg.ConsumeEndDetected()
	if s.manual && s.cfg.AutoEndDetect {
		if s.gate.Silent(st.levels) {
			s.manualSilence++
		} else {
			s.manualSilence = 0
		}
		if s.manualSilence >= s.seg.Config().NOff {
			st.stop = true
			s.manualStarted = false
			s.manualSilence = 0
		}
	}
	return st
}

// flush returns whatever the manual session has buffered and resets the
// manual bookkeeping.
func (s *session) flush() *segment.Utterance {
	s.manualStarted = false
	s.manualSilence = 0
	return s.seg.ForceEmitBuffer()
}

// takePending returns the utterance held for merging, if any, and resets
// the segmenter.
func (s *session) takePending() *segment.Utterance {
	if s.seg.Phase() != segment.PendingMerge {
		return nil
	}
	return s.seg.ForceEmitPending()
}

func (s *session) close() {
	if s.classifier == nil {
		return
	}
	if err := s.classifier.Close(); err != nil {
		slog.Debug("capture: classifier close failed", "err", err)
	}
	s.classifier = nil
}
