// Package tutor is the downstream consumer of captured utterances. Each
// utterance is transcribed and then, depending on the configured route,
// either published as a transcript or answered by the language tutor: an LLM
// reply that is spoken back through TTS.
//
// The pipeline runs on the capture dispatcher's single worker, so at most one
// utterance is in flight. Every stage re-checks the interrupt generation
// before publishing anything; a stale result is dropped silently.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/simpletutor/voicefront/internal/capture"
	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/observe"
	"github.com/simpletutor/voicefront/internal/status"
	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/llm"
	"github.com/simpletutor/voicefront/pkg/provider/stt"
	"github.com/simpletutor/voicefront/pkg/provider/tts"
)

const (
	// RecentTurns is how many past turns are included in the LLM request.
	RecentTurns = 4

	defaultTurnLogSize = 6
	defaultTurnLogAge  = 30 * time.Minute
)

// Publisher receives what the pipeline wants the user to see.
// [status.Broadcaster] implements it.
type Publisher interface {
	SetPhase(p status.Phase)
	Message(role, text string)
	Transcript(text string)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLLM sets the reply model. Required for [config.RouteTutor].
func WithLLM(p llm.Provider) Option {
	return func(pl *Pipeline) { pl.llm = p }
}

// WithTTS sets the speech synthesizer. Without one, replies are published
// but not spoken.
func WithTTS(p tts.Provider) Option {
	return func(pl *Pipeline) { pl.tts = p }
}

// WithPlayer sets the output device for synthesized replies.
func WithPlayer(p audio.Player) Option {
	return func(pl *Pipeline) { pl.player = p }
}

// WithPublisher sets where phases, chat messages, and transcripts go.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.pub = p
		}
	}
}

// WithListening sets the function used to pick the idle phase after each
// utterance. Default: always listening.
func WithListening(fn func() bool) Option {
	return func(pl *Pipeline) {
		if fn != nil {
			pl.listening = fn
		}
	}
}

// WithTurnLog replaces the default conversation history.
func WithTurnLog(l *TurnLog) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.turns = l
		}
	}
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.metrics = m
		}
	}
}

// Pipeline turns utterances into transcripts and tutor replies. It
// implements [capture.Consumer].
type Pipeline struct {
	cfg    config.TutorConfig
	stt    stt.Transcriber
	llm    llm.Provider
	tts    tts.Provider
	player audio.Player
	gen    *capture.Generation

	pub       Publisher
	listening func() bool
	turns     *TurnLog
	metrics   *observe.Metrics

	// lastTranscript is only touched by the dispatch worker.
	lastTranscript string
}

var _ capture.Consumer = (*Pipeline)(nil)

// New creates a pipeline for the learner described by cfg. gen must be the
// generation shared with the capture orchestrator.
func New(cfg config.TutorConfig, transcriber stt.Transcriber, gen *capture.Generation, opts ...Option) (*Pipeline, error) {
	if transcriber == nil {
		return nil, errors.New("tutor: transcriber is required")
	}
	if gen == nil {
		return nil, errors.New("tutor: generation is required")
	}
	if cfg.Route == "" {
		cfg.Route = config.RouteTutor
	}
	p := &Pipeline{
		cfg:       cfg,
		stt:       transcriber,
		gen:       gen,
		pub:       nopPublisher{},
		listening: func() bool { return true },
	}
	for _, o := range opts {
		o(p)
	}
	if p.cfg.Route == config.RouteTutor && p.llm == nil {
		return nil, errors.New("tutor: route tutor requires an LLM provider")
	}
	if p.turns == nil {
		p.turns = NewTurnLog(defaultTurnLogSize, defaultTurnLogAge)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Turns returns the conversation history.
func (p *Pipeline) Turns() *TurnLog { return p.turns }

// HandleUtterance implements [capture.Consumer].
func (p *Pipeline) HandleUtterance(ctx context.Context, job capture.Job) error {
	ctx, span := observe.StartSpan(ctx, "tutor.utterance",
		trace.WithAttributes(observe.UtteranceAttributes(job.ID, job.Generation, job.Utterance.Duration())...))
	defer span.End()

	p.pub.SetPhase(status.PhaseThinking)
	defer func() {
		// A stale task no longer owns the phase.
		if !p.gen.Stale(job.Generation) {
			p.pub.SetPhase(status.IdlePhase(p.listening()))
		}
	}()

	err := p.handle(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) handle(ctx context.Context, job capture.Job) error {
	log := observe.Logger(ctx)

	text, err := p.transcribe(ctx, job)
	if p.stale(ctx, job, "stt") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tutor: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("tutor: empty transcript", "id", job.ID)
		return nil
	}
	if text == p.lastTranscript {
		log.Debug("tutor: duplicate transcript suppressed", "id", job.ID)
		return nil
	}
	p.lastTranscript = text
	log.Info("tutor: transcript", "id", job.ID, "route", p.cfg.Route, "chars", len(text))

	if p.cfg.Route == config.RouteTestSTT {
		if job.Config.ShowTranscriptPopup {
			p.pub.Transcript(text)
		}
		return nil
	}
	return p.converse(ctx, job, text)
}

func (p *Pipeline) converse(ctx context.Context, job capture.Job, text string) error {
	p.pub.Message("user", text)

	reply, err := p.reply(ctx, text)
	if p.stale(ctx, job, "llm") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tutor: reply: %w", err)
	}
	if reply == "" {
		return nil
	}
	p.turns.Add(Turn{User: text, Tutor: reply})
	p.pub.Message("tutor", reply)

	if p.tts == nil {
		return nil
	}
	p.pub.SetPhase(status.PhaseSpeaking)
	speech, err := p.synthesize(ctx, reply)
	if p.stale(ctx, job, "tts") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tutor: synthesize: %w", err)
	}
	if p.player == nil || len(speech.PCM) == 0 {
		return nil
	}
	if err := p.player.Play(ctx, speech.PCM, speech.SampleRate); err != nil {
		if p.stale(ctx, job, "playback") {
			return nil
		}
		return fmt.Errorf("tutor: play: %w", err)
	}
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, job capture.Job) (string, error) {
	ctx, span := observe.StartSpan(ctx, "tutor.stt")
	defer span.End()

	req := stt.Request{
		Audio:  audio.EncodeWAV(job.Utterance.PCM, audio.SampleRate, audio.Channels),
		Prompt: STTPrompt(p.cfg.LanguageLabel),
	}
	start := time.Now()
	text, err := p.stt.Transcribe(ctx, req)
	p.observe(ctx, "stt", start, err)
	return text, err
}

func (p *Pipeline) reply(ctx context.Context, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "tutor.llm")
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: SystemPrompt(p.cfg),
		Messages:     Messages(p.turns.Recent(RecentTurns), text),
		JSONObject:   true,
	}
	start := time.Now()
	resp, err := p.llm.Complete(ctx, req)
	p.observe(ctx, "llm", start, err)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return ParseReply(resp.Content), nil
}

func (p *Pipeline) synthesize(ctx context.Context, text string) (tts.Audio, error) {
	ctx, span := observe.StartSpan(ctx, "tutor.tts")
	defer span.End()

	start := time.Now()
	speech, err := p.tts.Synthesize(ctx, text, p.cfg.Voice)
	p.observe(ctx, "tts", start, err)
	return speech, err
}

// observe records latency and outcome of one provider call.
func (p *Pipeline) observe(ctx context.Context, kind string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	switch kind {
	case "stt":
		p.metrics.STTDuration.Record(ctx, elapsed)
	case "llm":
		p.metrics.LLMDuration.Record(ctx, elapsed)
	case "tts":
		p.metrics.TTSDuration.Record(ctx, elapsed)
	}
	switch {
	case err == nil:
		p.metrics.RecordProviderRequest(ctx, kind, "ok")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.metrics.RecordProviderRequest(ctx, kind, "cancelled")
	default:
		p.metrics.RecordProviderRequest(ctx, kind, "error")
		p.metrics.RecordProviderError(ctx, kind)
	}
}

// stale reports whether job was interrupted, recording the discard.
func (p *Pipeline) stale(ctx context.Context, job capture.Job, stage string) bool {
	if !p.gen.Stale(job.Generation) {
		return false
	}
	p.metrics.RecordStale(context.WithoutCancel(ctx), stage)
	observe.Logger(ctx).Debug("tutor: stale result discarded", "id", job.ID, "stage", stage)
	return true
}

type nopPublisher struct{}

func (nopPublisher) SetPhase(status.Phase)  {}
func (nopPublisher) Message(string, string) {}
func (nopPublisher) Transcript(string)      {}
