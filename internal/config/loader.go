package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"openai"},
	"llm":   {"openai"},
	"tts":   {"openai"},
	"vad":   {"webrtc"},
	"audio": {"malgo", "file"},
}

// Default values filled in by [ApplyDefaults].
const (
	DefaultUserConfigPath = "voicefront-user.yaml"
	DefaultAudioDevice    = "malgo"
	DefaultVAD            = "webrtc"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DefaultAudioDevice
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = DefaultVAD
	}
	if cfg.Tutor.Route == "" {
		cfg.Tutor.Route = RouteTutor
	}
	if cfg.Tutor.LanguageLabel == "" {
		cfg.Tutor.LanguageLabel = "Japanese"
	}
	if cfg.Tutor.LanguageCode == "" {
		cfg.Tutor.LanguageCode = "ja-JP"
	}
	if cfg.UserConfigPath == "" {
		cfg.UserConfigPath = DefaultUserConfigPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Device)
	if cfg.Audio.Device == "file" && cfg.Audio.Path == "" {
		errs = append(errs, errors.New("audio.path is required when audio.device is file"))
	}

	// Unknown provider names only warn; they may be registered by a fork.
	for kind, entry := range map[string]ProviderEntry{
		"stt": cfg.Providers.STT,
		"llm": cfg.Providers.LLM,
		"tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, fb.Name)
		}
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; utterances will be captured but not transcribed")
	}

	// Tutor ↔ provider cross-validation
	if cfg.Tutor.Route != "" && !cfg.Tutor.Route.IsValid() {
		errs = append(errs, fmt.Errorf("tutor.route %q is invalid; valid values: test_stt, tutor", cfg.Tutor.Route))
	}
	if cfg.Tutor.Route == RouteTutor && cfg.Providers.STT.Name != "" {
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("tutor.route %q requires an LLM provider but providers.llm is not configured", cfg.Tutor.Route))
		}
		if cfg.Providers.TTS.Name == "" {
			slog.Warn("no TTS provider configured; tutor replies will not be spoken")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, check for a typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
