package config_test

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

func TestDefaultUserConfig(t *testing.T) {
	t.Parallel()
	u := config.DefaultUserConfig()
	if u.Mode != vad.ModeVeryAggressive {
		t.Errorf("mode = %v", u.Mode)
	}
	if u.NOn != 5 || u.NOff != 75 || u.MinUtterMs != 700 || u.MergeGapMs != 250 {
		t.Errorf("segmenter defaults = %+v", u)
	}
	if u.PeakMin != 800 || u.RMSMinDBFS != -42 || u.NoiseMarginDB != 8 {
		t.Errorf("gate defaults = %+v", u)
	}
	if !u.AlwaysOn || u.ManualListening || !u.AutoEndDetect {
		t.Errorf("listening defaults = %+v", u)
	}
	if u.Clamp() != u {
		t.Error("defaults should already be within range")
	}
}

func TestUserConfig_ListeningFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		alwaysOn, manual      bool
		wantEnabled, wantMode bool
	}{
		{false, false, false, false},
		{true, false, true, false},
		{false, true, true, true},
		{true, true, true, false},
	}
	for _, tt := range tests {
		u := config.UserConfig{AlwaysOn: tt.alwaysOn, ManualListening: tt.manual}
		if got := u.ListeningEnabled(); got != tt.wantEnabled {
			t.Errorf("alwaysOn=%v manual=%v: ListeningEnabled = %v", tt.alwaysOn, tt.manual, got)
		}
		if got := u.ManualMode(); got != tt.wantMode {
			t.Errorf("alwaysOn=%v manual=%v: ManualMode = %v", tt.alwaysOn, tt.manual, got)
		}
	}
}

func TestUserConfig_Clamp(t *testing.T) {
	t.Parallel()

	u := config.UserConfig{
		Mode:           vad.Mode(42),
		MinAmplitude:   -5,
		PeakMin:        99999,
		RMSMinDBFS:     -300,
		NoiseMarginDB:  math.NaN(),
		NOn:            0,
		NOff:           -3,
		MinUtterMs:     -1,
		MinSpeechRatio: 1.7,
		MergeGapMs:     -10,
	}.Clamp()

	if u.Mode != vad.ModeVeryAggressive {
		t.Errorf("Mode = %v", u.Mode)
	}
	if u.MinAmplitude != 0 || u.PeakMin != 32767 {
		t.Errorf("amplitudes = %d, %d", u.MinAmplitude, u.PeakMin)
	}
	if u.RMSMinDBFS != -100 {
		t.Errorf("RMSMinDBFS = %v", u.RMSMinDBFS)
	}
	if u.NoiseMarginDB != 8 {
		t.Errorf("NoiseMarginDB = %v, want default for NaN", u.NoiseMarginDB)
	}
	if u.NOn != 1 || u.NOff != 1 {
		t.Errorf("NOn/NOff = %d/%d", u.NOn, u.NOff)
	}
	if u.MinUtterMs != 0 || u.MergeGapMs != 0 {
		t.Errorf("MinUtterMs/MergeGapMs = %d/%d", u.MinUtterMs, u.MergeGapMs)
	}
	if u.MinSpeechRatio != 1 {
		t.Errorf("MinSpeechRatio = %v", u.MinSpeechRatio)
	}
}

func TestDecodeUserConfig_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	u, err := config.DecodeUserConfig(strings.NewReader("n_on: 3\nmode: aggressive\nalways_on: false\n"))
	if err != nil {
		t.Fatalf("DecodeUserConfig: %v", err)
	}
	if u.NOn != 3 || u.Mode != vad.ModeAggressive || u.AlwaysOn {
		t.Errorf("decoded = %+v", u)
	}
	if u.NOff != 75 || u.MergeGapMs != 250 {
		t.Errorf("defaults lost: %+v", u)
	}
}

func TestDecodeUserConfig_UnknownKey(t *testing.T) {
	t.Parallel()
	if _, err := config.DecodeUserConfig(strings.NewReader("volume: 11\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadUserConfig_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.LoadUserConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, config.ErrNoUserConfig) {
		t.Errorf("err = %v, want ErrNoUserConfig", err)
	}
}

func TestWriteUserConfig_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")
	want := config.DefaultUserConfig()
	want.ManualListening = true
	want.Mode = vad.ModeLowBitrate
	want.RMSMinDBFS = -37.5

	if err := config.WriteUserConfig(path, want); err != nil {
		t.Fatalf("WriteUserConfig: %v", err)
	}
	got, err := config.LoadUserConfig(path)
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	if got != want {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, want)
	}
}
