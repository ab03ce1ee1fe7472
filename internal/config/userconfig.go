package config

import (
	"math"

	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

// UserConfig holds the endpointing thresholds and listening flags. It is a
// plain value: the capture loop keeps its own copy and never shares it.
type UserConfig struct {
	// Mode is the classifier aggressiveness.
	Mode vad.Mode `yaml:"mode"`

	// MinSpeechMs and EndSilenceMs are kept for preference-file
	// compatibility; the segmenter is driven by NOn/NOff.
	MinSpeechMs  int `yaml:"min_speech_ms"`
	EndSilenceMs int `yaml:"end_silence_ms"`

	// AmplitudeGateEnabled turns on the MinAmplitude peak floor.
	AmplitudeGateEnabled bool `yaml:"amplitude_gate_enabled"`
	MinAmplitude         int  `yaml:"min_amplitude"`

	// PeakMin and RMSMinDBFS are the loudness gate floors.
	PeakMin    int     `yaml:"peak_min"`
	RMSMinDBFS float64 `yaml:"rms_min_dbfs"`

	// NoiseMarginDB is the required excess of RMS over the noise floor.
	NoiseMarginDB float64 `yaml:"noise_margin_db"`

	// NOn and NOff are the start and end hysteresis lengths in frames.
	NOn  int `yaml:"n_on"`
	NOff int `yaml:"n_off"`

	// MinUtterMs and MinSpeechRatio reject short or mostly silent utterances.
	MinUtterMs     int     `yaml:"min_utter_ms"`
	MinSpeechRatio float64 `yaml:"min_speech_ratio"`

	// MergeGapMs is the longest pause across which two bursts are merged.
	MergeGapMs int `yaml:"merge_gap_ms"`

	// AlwaysOn and ManualListening enable capture; either one suffices.
	AlwaysOn        bool `yaml:"always_on"`
	ManualListening bool `yaml:"manual_listening"`

	// AutoEndDetect stops a manual session after NOff quiet frames.
	AutoEndDetect bool `yaml:"auto_end_detect"`

	// ShowTranscriptPopup publishes transcripts to status subscribers.
	ShowTranscriptPopup bool `yaml:"show_transcript_popup"`
}

// DefaultUserConfig returns the factory preferences.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		Mode:                vad.ModeVeryAggressive,
		MinSpeechMs:         200,
		EndSilenceMs:        400,
		MinAmplitude:        500,
		PeakMin:             800,
		RMSMinDBFS:          -42,
		NoiseMarginDB:       8,
		NOn:                 5,
		NOff:                75,
		MinUtterMs:          700,
		MinSpeechRatio:      0.35,
		MergeGapMs:          250,
		AlwaysOn:            true,
		AutoEndDetect:       true,
		ShowTranscriptPopup: true,
	}
}

// ListeningEnabled reports whether capture should run.
func (u UserConfig) ListeningEnabled() bool {
	return u.AlwaysOn || u.ManualListening
}

// ManualMode reports whether capture runs as an explicit push-to-talk
// session rather than ambient listening.
func (u UserConfig) ManualMode() bool {
	return u.ManualListening && !u.AlwaysOn
}

// Clamp returns u with every field forced into its legal range. Stores call it
// before accepting a value.
func (u UserConfig) Clamp() UserConfig {
	def := DefaultUserConfig()
	if !u.Mode.Valid() {
		u.Mode = def.Mode
	}
	if math.IsNaN(u.RMSMinDBFS) {
		u.RMSMinDBFS = def.RMSMinDBFS
	}
	if math.IsNaN(u.NoiseMarginDB) {
		u.NoiseMarginDB = def.NoiseMarginDB
	}
	if math.IsNaN(u.MinSpeechRatio) {
		u.MinSpeechRatio = def.MinSpeechRatio
	}
	u.MinSpeechMs = max(u.MinSpeechMs, 0)
	u.EndSilenceMs = max(u.EndSilenceMs, 0)
	u.MinAmplitude = min(max(u.MinAmplitude, 0), 32767)
	u.PeakMin = min(max(u.PeakMin, 0), 32767)
	u.RMSMinDBFS = min(max(u.RMSMinDBFS, -100), 0)
	u.NoiseMarginDB = min(max(u.NoiseMarginDB, 0), 30)
	u.NOn = max(u.NOn, 1)
	u.NOff = max(u.NOff, 1)
	u.MinUtterMs = max(u.MinUtterMs, 0)
	u.MinSpeechRatio = min(max(u.MinSpeechRatio, 0), 1)
	u.MergeGapMs = max(u.MergeGapMs, 0)
	return u
}
