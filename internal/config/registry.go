package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	s2s   map[string]func(ProviderEntry) (s2s.Provider, error)
	llm   map[string]func(ProviderEntry) (llm.Provider, error)
	audio map[AudioBackend]func(AudioConfig) (audio.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:   make(map[string]func(ProviderEntry) (s2s.Provider, error)),
		llm:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		audio: make(map[AudioBackend]func(AudioConfig) (audio.Backend, error)),
	}
}

// RegisterS2S registers a speech-to-speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// RegisterLLM registers a chat model provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterAudio registers an audio backend factory.
func (r *Registry) RegisterAudio(backend AudioBackend, factory func(AudioConfig) (audio.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[backend] = factory
}

// CreateS2S instantiates the S2S provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates the chat model provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend selected by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Backend, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// LLMNames returns the registered chat provider names in sorted order.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for n := range r.llm {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
