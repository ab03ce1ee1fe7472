// Package gate implements the per-frame amplitude and noise gate that sits in
// front of the utterance segmenter.
//
// A frame is candidate speech only when it is loud enough in absolute terms
// (peak and RMS floors), loud enough relative to an adaptive noise floor, and
// the acoustic classifier agrees. The noise floor is an exponential moving
// average fed exclusively by frames that fail the loudness gate, so speech
// never raises its own baseline.
//
// A Gate belongs to one listening session. It is not safe for concurrent use.
package gate

import (
	"log/slog"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

const (
	// InitialNoiseFloor is the noise floor estimate of a fresh Gate in dBFS.
	InitialNoiseFloor = -60.0

	// NoiseAlpha is the smoothing factor of the noise floor EMA.
	NoiseAlpha = 0.1
)

// Levels is the raw loudness of one frame.
type Levels struct {
	// Peak is the largest absolute sample value (0..32767).
	Peak int

	// RMSDBFS is the RMS level in dBFS; silence is [audio.SilenceDBFS].
	RMSDBFS float64
}

// Decision is the outcome of [Gate.Evaluate] for one frame.
type Decision struct {
	Levels

	// Speech is the gated candidate-speech decision fed to the segmenter.
	Speech bool

	// LoudnessPass reports whether the frame met both absolute floors.
	LoudnessPass bool

	// NoisePass reports whether the frame cleared the noise floor margin.
	NoisePass bool

	// Classified reports whether the classifier was consulted.
	Classified bool
}

// Gate combines the loudness floors, the adaptive noise floor, and a
// [vad.Classifier] into one speech decision per frame.
type Gate struct {
	peakMin       int
	rmsMinDBFS    float64
	noiseMarginDB float64
	ampGate       bool
	minAmplitude  int

	classifier vad.Classifier
	floor      float64
	errLogged  bool
}

// New returns a Gate using the thresholds in u and the given classifier. A nil
// classifier accepts every frame that passes the loudness and noise gates.
func New(u config.UserConfig, classifier vad.Classifier) *Gate {
	return &Gate{
		peakMin:       u.PeakMin,
		rmsMinDBFS:    u.RMSMinDBFS,
		noiseMarginDB: u.NoiseMarginDB,
		ampGate:       u.AmplitudeGateEnabled,
		minAmplitude:  u.MinAmplitude,
		classifier:    classifier,
		floor:         InitialNoiseFloor,
	}
}

// Measure returns the peak and RMS level of samples without touching the
// noise floor.
func Measure(samples []int16) Levels {
	return Levels{Peak: audio.Peak(samples), RMSDBFS: audio.RMSDBFS(samples)}
}

// NoiseFloor returns the current noise floor estimate in dBFS.
func (g *Gate) NoiseFloor() float64 { return g.floor }

// Evaluate gates one frame. samples and pcm are the same frame as int16
// samples and little-endian bytes; pcm is what the classifier sees.
func (g *Gate) Evaluate(samples []int16, pcm []byte) Decision {
	d := Decision{Levels: Measure(samples)}

	d.LoudnessPass = d.Peak >= g.peakMin && d.RMSDBFS >= g.rmsMinDBFS
	if !d.LoudnessPass {
		g.floor = NoiseAlpha*d.RMSDBFS + (1-NoiseAlpha)*g.floor
	}
	d.NoisePass = d.RMSDBFS >= g.floor+g.noiseMarginDB

	if g.ampGate && d.Peak < g.minAmplitude {
		return d
	}
	if !d.LoudnessPass || !d.NoisePass {
		return d
	}
	d.Speech = g.classify(pcm)
	d.Classified = true
	return d
}

// Silent reports whether l is below both loudness floors. Manual sessions use
// it to detect the end of speech without the classifier.
func (g *Gate) Silent(l Levels) bool {
	return l.Peak < g.peakMin && l.RMSDBFS < g.rmsMinDBFS
}

func (g *Gate) classify(pcm []byte) bool {
	if g.classifier == nil {
		return true
	}
	speech, err := g.classifier.IsSpeech(pcm)
	if err != nil {
		if !g.errLogged {
			slog.Warn("gate: classifier failed, treating frame as non-speech", "err", err)
			g.errLogged = true
		}
		return false
	}
	return speech
}
