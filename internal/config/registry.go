package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/llm"
	"github.com/simpletutor/voicefront/pkg/provider/stt"
	"github.com/simpletutor/voicefront/pkg/provider/tts"
	"github.com/simpletutor/voicefront/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods for a name no
// factory was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one kind's name → constructor table.
type factories[C, T any] struct {
	kind string
	m    map[string]func(C) (T, error)
}

func newFactories[C, T any](kind string) factories[C, T] {
	return factories[C, T]{kind: kind, m: make(map[string]func(C) (T, error))}
}

func (f factories[C, T]) create(mu *sync.RWMutex, name string, cfg C) (T, error) {
	mu.RLock()
	fn, ok := f.m[name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	v, err := fn(cfg)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%s: %w", f.kind, name, err)
	}
	return v, nil
}

// Registry resolves the provider names used in the config file to
// constructors. Registering a name twice replaces the first factory. It is
// safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stt   factories[ProviderEntry, stt.Transcriber]
	llm   factories[ProviderEntry, llm.Provider]
	tts   factories[ProviderEntry, tts.Provider]
	vad   factories[ProviderEntry, vad.Factory]
	audio factories[AudioConfig, audio.Device]
}

func NewRegistry() *Registry {
	return &Registry{
		stt:   newFactories[ProviderEntry, stt.Transcriber]("stt"),
		llm:   newFactories[ProviderEntry, llm.Provider]("llm"),
		tts:   newFactories[ProviderEntry, tts.Provider]("tts"),
		vad:   newFactories[ProviderEntry, vad.Factory]("vad"),
		audio: newFactories[AudioConfig, audio.Device]("audio"),
	}
}

func (r *Registry) RegisterSTT(name string, fn func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = fn
}

func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = fn
}

func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = fn
}

func (r *Registry) RegisterVAD(name string, fn func(ProviderEntry) (vad.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = fn
}

// RegisterAudio registers a capture device constructor, keyed by
// [AudioConfig.Device].
func (r *Registry) RegisterAudio(name string, fn func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = fn
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return r.stt.create(&r.mu, entry.Name, entry)
}

func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry.Name, entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry.Name, entry)
}

func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Factory, error) {
	return r.vad.create(&r.mu, entry.Name, entry)
}

func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	return r.audio.create(&r.mu, cfg.Device, cfg)
}

// Names lists the registered names for kind ("stt", "llm", "tts", "vad" or
// "audio") in sorted order. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.m))
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.m))
	case r.tts.kind:
		return slices.Sorted(maps.Keys(r.tts.m))
	case r.vad.kind:
		return slices.Sorted(maps.Keys(r.vad.m))
	case r.audio.kind:
		return slices.Sorted(maps.Keys(r.audio.m))
	}
	return nil
}
