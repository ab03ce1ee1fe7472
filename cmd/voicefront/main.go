// Command voicefront is the main entry point for the voicefront capture and
// tutor service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/simpletutor/voicefront/internal/capture"
	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/health"
	"github.com/simpletutor/voicefront/internal/observe"
	"github.com/simpletutor/voicefront/internal/resilience"
	"github.com/simpletutor/voicefront/internal/server"
	"github.com/simpletutor/voicefront/internal/status"
	"github.com/simpletutor/voicefront/internal/tutor"
	"github.com/simpletutor/voicefront/pkg/audio"
	audiomalgo "github.com/simpletutor/voicefront/pkg/audio/malgo"
	"github.com/simpletutor/voicefront/pkg/provider/llm"
	oaillm "github.com/simpletutor/voicefront/pkg/provider/llm/openai"
	"github.com/simpletutor/voicefront/pkg/provider/stt"
	oaistt "github.com/simpletutor/voicefront/pkg/provider/stt/openai"
	"github.com/simpletutor/voicefront/pkg/provider/tts"
	oaitts "github.com/simpletutor/voicefront/pkg/provider/tts/openai"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
	"github.com/simpletutor/voicefront/pkg/provider/vad/webrtc"
)

// captureStallAfter is how long the capture loop may go without an iteration
// before /readyz reports it as stalled.
const captureStallAfter = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicefront: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicefront: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voicefront starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicefront"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			for _, kind := range []string{"audio", "vad", "stt", "llm", "tts"} {
				fmt.Fprintf(os.Stderr, "  %-5s %s\n", kind, strings.Join(reg.Names(kind), ", "))
			}
		}
		return 1
	}

	// ── User preferences ──────────────────────────────────────────────────────
	store, err := config.OpenFileStore(cfg.UserConfigPath)
	if err != nil {
		slog.Error("failed to open user config", "path", cfg.UserConfigPath, "err", err)
		return 1
	}
	defer store.Close()

	printStartupSummary(cfg)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	feed := status.NewBroadcaster()
	gen := capture.NewGeneration()

	var orch *capture.Orchestrator
	var consumer capture.Consumer = capture.ConsumerFunc(logUtterance)
	checkers := []health.Checker{
		health.Fresh("capture", func() time.Time { return orch.LastIteration() }, captureStallAfter),
	}

	if ps.STT != nil {
		opts := []tutor.Option{
			tutor.WithPublisher(feed),
			tutor.WithListening(func() bool { return orch.Listening() }),
			tutor.WithMetrics(metrics),
		}
		checkers = append(checkers, health.Available("stt", ps.STT))
		if ps.LLM != nil {
			opts = append(opts, tutor.WithLLM(ps.LLM))
			checkers = append(checkers, health.Optional(health.Available("llm", ps.LLM)))
		}
		if ps.TTS != nil {
			opts = append(opts, tutor.WithTTS(ps.TTS))
			checkers = append(checkers, health.Optional(health.Available("tts", ps.TTS)))
		}
		if cfg.Audio.Playback {
			opts = append(opts, tutor.WithPlayer(audiomalgo.NewPlayer()))
		}
		pipeline, err := tutor.New(cfg.Tutor, ps.STT, gen, opts...)
		if err != nil {
			slog.Error("failed to create tutor pipeline", "err", err)
			return 1
		}
		consumer = pipeline
	}

	captureOpts := []capture.Option{
		capture.WithSink(feed),
		capture.WithMetrics(metrics),
		capture.WithGeneration(gen),
	}
	if cfg.Audio.Device == "file" && !cfg.Audio.Loop {
		captureOpts = append(captureOpts, capture.WithExitOnSourceEnd())
	}
	orch = capture.New(ps.Audio, ps.VAD, store, consumer, captureOpts...)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A finished capture loop (file input without looping) ends the process.
		defer stop()
		return orch.Run(gctx)
	})
	if cfg.Server.ListenAddr != "" {
		srv := server.New(orch, feed,
			server.WithHealth(health.New(checkers...)),
			server.WithMetricsHandler(promhttp.Handler()),
			server.WithMetrics(metrics),
		)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.ListenAddr) })
	}

	slog.Info("voicefront ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// logUtterance is the consumer used when no STT provider is configured.
func logUtterance(_ context.Context, job capture.Job) error {
	slog.Info("utterance captured",
		"id", job.ID,
		"source", job.Source,
		"duration", job.Utterance.Duration(),
		"generation", job.Generation,
	)
	return nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(openAIKey(entry), opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(openAIKey(entry), entry.Model, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithDefaultVoice(voice))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(openAIKey(entry), opts...)
	})

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Factory, error) {
		return webrtc.New(), nil
	})

	reg.RegisterAudio("malgo", func(config.AudioConfig) (audio.Device, error) {
		return audiomalgo.New(), nil
	})

	reg.RegisterAudio("file", func(cfg config.AudioConfig) (audio.Device, error) {
		return audio.NewFileDevice(cfg.Path, audio.WithLoop(cfg.Loop)), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providers holds the instantiated pipeline stages. Remote stages are wrapped
// in circuit-breaking fallback groups.
type providers struct {
	Audio audio.Device
	VAD   vad.Factory
	STT   *resilience.STTFallback
	LLM   *resilience.LLMFallback
	TTS   *resilience.TTSFallback
}

// buildProviders instantiates all providers named in cfg using the registry.
// Each remote stage gets its configured fallbacks, with breaker transitions
// reported to metrics.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*providers, error) {
	ps := &providers{}
	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio device %q: %w", cfg.Audio.Device, err)
	}
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Device)

	vads, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = vads
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if entry := cfg.Providers.STT; entry.Name != "" {
		err := buildGroup("stt", entry, reg.CreateSTT, func(name string, p stt.Transcriber) {
			if ps.STT == nil {
				ps.STT = resilience.NewSTTFallback(p, name, fb)
			} else {
				ps.STT.AddFallback(name, p)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		err := buildGroup("llm", entry, reg.CreateLLM, func(name string, p llm.Provider) {
			if ps.LLM == nil {
				ps.LLM = resilience.NewLLMFallback(p, name, fb)
			} else {
				ps.LLM.AddFallback(name, p)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		err := buildGroup("tts", entry, reg.CreateTTS, func(name string, p tts.Provider) {
			if ps.TTS == nil {
				ps.TTS = resilience.NewTTSFallback(p, name, fb)
			} else {
				ps.TTS.AddFallback(name, p)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return ps, nil
}

// buildGroup creates the primary entry and its fallbacks in order and hands
// each to add. Entries are named "kind/name#i" so breakers stay distinct when
// the same provider appears twice.
func buildGroup[T any](kind string, primary config.ProviderEntry, create func(config.ProviderEntry) (T, error), add func(name string, p T)) error {
	entries := append([]config.ProviderEntry{primary}, primary.Fallbacks...)
	for i, entry := range entries {
		p, err := create(entry)
		if err != nil {
			return fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
		}
		name := fmt.Sprintf("%s/%s#%d", kind, entry.Name, i)
		add(name, p)
		slog.Info("provider created", "kind", kind, "name", entry.Name, "fallback", i > 0)
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicefront · startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Audio", cfg.Audio.Device, cfg.Audio.Path)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Route           : %-19s ║\n", cfg.Tutor.Route)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Tutor.LanguageLabel)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	} else {
		fmt.Printf("║  Listen addr     : %-19s ║\n", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// openAIKey returns the entry's API key, falling back to $OPENAI_API_KEY.
func openAIKey(entry config.ProviderEntry) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// optDuration parses a duration string ("30s") from a provider Options map.
// Invalid values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
