package vad_test

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    vad.Mode
		wantErr bool
	}{
		{in: "quality", want: vad.ModeQuality},
		{in: "LOW_BITRATE", want: vad.ModeLowBitrate},
		{in: "aggressive", want: vad.ModeAggressive},
		{in: "very-aggressive", want: vad.ModeVeryAggressive},
		{in: " very_aggressive ", want: vad.ModeVeryAggressive},
		{in: "loud", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := vad.ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	t.Parallel()
	if got := vad.ModeAggressive.String(); got != "aggressive" {
		t.Errorf("String() = %q", got)
	}
	if got := vad.Mode(9).String(); got != "Mode(9)" {
		t.Errorf("String() = %q", got)
	}
	if vad.Mode(-1).Valid() {
		t.Error("Mode(-1) should be invalid")
	}
}

func TestMode_YAML(t *testing.T) {
	t.Parallel()

	var doc struct {
		Mode vad.Mode `yaml:"mode"`
	}
	if err := yaml.Unmarshal([]byte("mode: low_bitrate\n"), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Mode != vad.ModeLowBitrate {
		t.Errorf("Mode = %v, want low_bitrate", doc.Mode)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != "mode: low_bitrate\n" {
		t.Errorf("Marshal = %q", out)
	}

	if err := yaml.Unmarshal([]byte("mode: shouty\n"), &doc); err == nil {
		t.Error("expected error for unknown mode")
	}
}
