package config

// UserDiff describes what changed between two user preference values.
type UserDiff struct {
	// ListeningChanged is true when capture turns on or off.
	ListeningChanged bool

	// ManualModeChanged is true when the session switches between ambient
	// and push-to-talk listening.
	ManualModeChanged bool

	// ManualStopped is true when ManualListening went from true to false.
	ManualStopped bool

	// ModeChanged is true when the classifier aggressiveness changed.
	ModeChanged bool

	// GateChanged is true when any loudness or noise threshold changed.
	GateChanged bool

	// SegmenterChanged is true when any hysteresis, length, ratio, or merge
	// setting changed.
	SegmenterChanged bool

	// AutoEndChanged is true when AutoEndDetect changed.
	AutoEndChanged bool
}

// RebuildSession reports whether a live capture session built from the old
// value must be rebuilt to honour the new one. Turning capture off or on
// always starts a fresh session so no segmenter state spans the gap.
func (d UserDiff) RebuildSession() bool {
	return d.ListeningChanged || d.ManualModeChanged || d.ModeChanged || d.GateChanged || d.SegmenterChanged
}

// Any reports whether anything relevant to capture changed.
func (d UserDiff) Any() bool {
	return d.ListeningChanged || d.RebuildSession() || d.ManualStopped || d.AutoEndChanged
}

// DiffUser compares old and new preferences.
func DiffUser(old, new UserConfig) UserDiff {
	d := UserDiff{}

	d.ListeningChanged = old.ListeningEnabled() != new.ListeningEnabled()
	d.ManualModeChanged = old.ManualMode() != new.ManualMode()
	d.ManualStopped = old.ManualListening && !new.ManualListening
	d.ModeChanged = old.Mode != new.Mode
	d.AutoEndChanged = old.AutoEndDetect != new.AutoEndDetect

	if old.AmplitudeGateEnabled != new.AmplitudeGateEnabled ||
		old.MinAmplitude != new.MinAmplitude ||
		old.PeakMin != new.PeakMin ||
		old.RMSMinDBFS != new.RMSMinDBFS ||
		old.NoiseMarginDB != new.NoiseMarginDB {
		d.GateChanged = true
	}

	if old.NOn != new.NOn ||
		old.NOff != new.NOff ||
		old.MinUtterMs != new.MinUtterMs ||
		old.MinSpeechRatio != new.MinSpeechRatio ||
		old.MergeGapMs != new.MergeGapMs {
		d.SegmenterChanged = true
	}

	return d
}
