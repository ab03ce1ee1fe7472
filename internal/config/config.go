// Package config provides the configuration schema, loader, user preference
// store, and provider registry for the voicefront capture service.
//
// Two documents are involved. The application [Config] is read once at start
// and selects devices and providers. The [UserConfig] holds the endpointing
// thresholds and listening flags; it is owned by a [Store], may be edited while
// the service runs, and is re-read by the capture loop between frames.
package config

// LogLevel controls log verbosity for the voicefront server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Route selects what happens to a transcript once an utterance was
// transcribed.
type Route string

const (
	// RouteTestSTT only publishes the transcript (speech-recognition test mode).
	RouteTestSTT Route = "test_stt"

	// RouteTutor sends the transcript to the tutor and speaks the reply.
	RouteTutor Route = "tutor"
)

// IsValid reports whether r is a recognised route.
func (r Route) IsValid() bool {
	return r == RouteTestSTT || r == RouteTutor
}

// Config is the root application configuration for voicefront.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Tutor     TutorConfig     `yaml:"tutor"`

	// UserConfigPath is the YAML file holding the hot-reloadable [UserConfig].
	// It is created with defaults when missing. Default: "voicefront-user.yaml".
	UserConfigPath string `yaml:"user_config_path"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture device and playback.
type AudioConfig struct {
	// Device names the registered capture device ("malgo" or "file").
	Device string `yaml:"device"`

	// Path is the audio file read by the "file" device.
	Path string `yaml:"path"`

	// Loop restarts the file from the beginning when it ends.
	Loop bool `yaml:"loop"`

	// Playback enables speaker output for synthesized replies.
	Playback bool `yaml:"playback"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "webrtc").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Only used for stt, llm and tts.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// TutorConfig describes the learner and how their speech is handled.
type TutorConfig struct {
	// UserID identifies the learner in prompts and logs.
	UserID string `yaml:"user_id"`

	// LanguageLabel is the human-readable target language (e.g., "Japanese").
	LanguageLabel string `yaml:"language_label"`

	// LanguageCode is the BCP-47 code of the target language (e.g., "ja-JP").
	LanguageCode string `yaml:"language_code"`

	// Mode is a free-text practice mode passed to the tutor prompt
	// (e.g., "conversation", "drill").
	Mode string `yaml:"mode"`

	// Level is the learner's self-reported level (e.g., "beginner").
	Level string `yaml:"level"`

	// Route selects transcript handling. Default: tutor.
	Route Route `yaml:"route"`

	// Voice is the TTS voice for tutor replies.
	Voice string `yaml:"voice"`
}
