package gate_test

import (
	"errors"
	"math"
	"testing"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/gate"
	"github.com/simpletutor/voicefront/pkg/audio"
	vadmock "github.com/simpletutor/voicefront/pkg/provider/vad/mock"
)

// constFrame returns a frame whose samples all have magnitude v.
func constFrame(v int16) ([]int16, []byte) {
	s := make([]int16, audio.FrameSamples)
	for i := range s {
		if i%2 == 0 {
			s[i] = v
		} else {
			s[i] = -v
		}
	}
	return s, audio.SamplesToBytes(nil, s)
}

func dbfs(v float64) float64 { return 20 * math.Log10(v/32768) }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mutate         func(*config.UserConfig)
		sample         int16
		classifier     bool
		wantSpeech     bool
		wantLoudness   bool
		wantNoise      bool
		wantClassified bool
	}{
		{
			name:           "loud frame accepted by classifier",
			sample:         3277,
			classifier:     true,
			wantSpeech:     true,
			wantLoudness:   true,
			wantNoise:      true,
			wantClassified: true,
		},
		{
			name:           "loud frame rejected by classifier",
			sample:         3277,
			classifier:     false,
			wantLoudness:   true,
			wantNoise:      true,
			wantClassified: true,
		},
		{
			name:       "quiet frame fails loudness",
			sample:     100,
			classifier: true,
			// -50.3 dBFS still clears the freshly updated floor by 8 dB.
			wantNoise: true,
		},
		{
			name:       "peak below floor fails loudness",
			mutate:     func(u *config.UserConfig) { u.PeakMin = 5000 },
			sample:     3277,
			classifier: true,
			wantNoise:  true,
		},
		{
			name: "amplitude gate vetoes",
			mutate: func(u *config.UserConfig) {
				u.AmplitudeGateEnabled = true
				u.MinAmplitude = 5000
			},
			sample:       3277,
			classifier:   true,
			wantLoudness: true,
			wantNoise:    true,
		},
		{
			name: "disabled amplitude gate ignores min amplitude",
			mutate: func(u *config.UserConfig) {
				u.MinAmplitude = 5000
			},
			sample:         3277,
			classifier:     true,
			wantSpeech:     true,
			wantLoudness:   true,
			wantNoise:      true,
			wantClassified: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := config.DefaultUserConfig()
			if tt.mutate != nil {
				tt.mutate(&u)
			}
			cls := &vadmock.Classifier{Result: tt.classifier}
			g := gate.New(u, cls)

			d := g.Evaluate(constFrame(tt.sample))
			if d.Speech != tt.wantSpeech {
				t.Errorf("Speech = %v, want %v", d.Speech, tt.wantSpeech)
			}
			if d.LoudnessPass != tt.wantLoudness {
				t.Errorf("LoudnessPass = %v, want %v", d.LoudnessPass, tt.wantLoudness)
			}
			if d.NoisePass != tt.wantNoise {
				t.Errorf("NoisePass = %v, want %v", d.NoisePass, tt.wantNoise)
			}
			if d.Classified != tt.wantClassified {
				t.Errorf("Classified = %v, want %v", d.Classified, tt.wantClassified)
			}
			wantCalls := 0
			if tt.wantClassified {
				wantCalls = 1
			}
			if cls.Frames != wantCalls {
				t.Errorf("classifier calls = %d, want %d", cls.Frames, wantCalls)
			}
			if d.Peak != int(tt.sample) {
				t.Errorf("Peak = %d, want %d", d.Peak, tt.sample)
			}
		})
	}
}

func TestNoiseFloor_OnlyLoudnessFailuresUpdate(t *testing.T) {
	t.Parallel()
	g := gate.New(config.DefaultUserConfig(), &vadmock.Classifier{Result: true})

	g.Evaluate(constFrame(3277))
	if g.NoiseFloor() != gate.InitialNoiseFloor {
		t.Fatalf("floor moved on a passing frame: %v", g.NoiseFloor())
	}

	g.Evaluate(constFrame(100))
	want := gate.NoiseAlpha*dbfs(100) + (1-gate.NoiseAlpha)*gate.InitialNoiseFloor
	if math.Abs(g.NoiseFloor()-want) > 1e-9 {
		t.Errorf("floor = %v, want %v", g.NoiseFloor(), want)
	}
}

func TestNoiseFloor_Converges(t *testing.T) {
	t.Parallel()
	g := gate.New(config.DefaultUserConfig(), nil)

	// peak 700 < PeakMin 800, so every frame fails the loudness gate.
	r := dbfs(700)
	prevDist := math.Abs(g.NoiseFloor() - r)
	for i := range 100 {
		g.Evaluate(constFrame(700))
		dist := math.Abs(g.NoiseFloor() - r)
		if dist > prevDist {
			t.Fatalf("frame %d: floor moved away from %v (dist %v > %v)", i, r, dist, prevDist)
		}
		prevDist = dist
	}
	if prevDist > 0.01 {
		t.Errorf("floor = %v after 100 frames, want within 0.01 of %v", g.NoiseFloor(), r)
	}
}

func TestNoiseGate_RaisedFloorRejects(t *testing.T) {
	t.Parallel()
	cls := &vadmock.Classifier{Result: true}
	g := gate.New(config.DefaultUserConfig(), cls)

	for range 100 {
		g.Evaluate(constFrame(700))
	}
	// Passes loudness (-30.3 dBFS) but sits within the 8 dB margin of a
	// floor near -33.4 dBFS.
	d := g.Evaluate(constFrame(1000))
	if !d.LoudnessPass {
		t.Fatal("expected loudness pass")
	}
	if d.NoisePass || d.Speech {
		t.Errorf("NoisePass = %v, Speech = %v, want both false", d.NoisePass, d.Speech)
	}
	if cls.Frames != 0 {
		t.Errorf("classifier consulted %d times", cls.Frames)
	}
}

func TestEvaluate_ClassifierError(t *testing.T) {
	t.Parallel()
	cls := &vadmock.Classifier{Result: true, Err: errors.New("bad frame")}
	g := gate.New(config.DefaultUserConfig(), cls)

	for range 3 {
		if d := g.Evaluate(constFrame(3277)); d.Speech {
			t.Fatal("classifier error must count as non-speech")
		}
	}
	if cls.Frames != 3 {
		t.Errorf("classifier calls = %d, want 3", cls.Frames)
	}
}

func TestEvaluate_DigitalSilence(t *testing.T) {
	t.Parallel()
	g := gate.New(config.DefaultUserConfig(), nil)

	d := g.Evaluate(constFrame(0))
	if d.RMSDBFS != audio.SilenceDBFS || d.Peak != 0 {
		t.Errorf("levels = %+v", d.Levels)
	}
	if math.IsInf(g.NoiseFloor(), 0) || math.IsNaN(g.NoiseFloor()) {
		t.Errorf("floor = %v", g.NoiseFloor())
	}
}

func TestSilent(t *testing.T) {
	t.Parallel()
	g := gate.New(config.DefaultUserConfig(), nil)

	tests := []struct {
		sample int16
		want   bool
	}{
		{0, true},
		{100, true},
		{700, false}, // RMS -33.4 dBFS is above the -42 floor.
		{3277, false},
	}
	for _, tt := range tests {
		s, _ := constFrame(tt.sample)
		if got := g.Silent(gate.Measure(s)); got != tt.want {
			t.Errorf("Silent(%d) = %v, want %v", tt.sample, got, tt.want)
		}
	}
}
