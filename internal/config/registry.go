package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxleaf/voxleaf/pkg/provider/asr"
	"github.com/voxleaf/voxleaf/pkg/provider/asr/whisper"
	"github.com/voxleaf/voxleaf/pkg/provider/llm"
	"github.com/voxleaf/voxleaf/pkg/provider/llm/anyllm"
	"github.com/voxleaf/voxleaf/pkg/provider/tts"
	"github.com/voxleaf/voxleaf/pkg/provider/tts/httptts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(ProviderEntry) (asr.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
	llm map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(ProviderEntry) (asr.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterASR registers a transcription provider constructor under name.
func (r *Registry) RegisterASR(name string, fn func(ProviderEntry) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = fn
}

// RegisterTTS registers a synthesis provider constructor under name.
func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = fn
}

// RegisterLLM registers a chat provider constructor under name.
func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = fn
}

// CreateASR instantiates the transcription provider selected by entry.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Provider, error) {
	r.mu.RLock()
	fn, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr %q", ErrProviderNotRegistered, entry.Name)
	}
	return fn(entry)
}

// CreateTTS instantiates the synthesis provider selected by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	fn, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrProviderNotRegistered, entry.Name)
	}
	return fn(entry)
}

// CreateLLM instantiates the chat provider selected by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	fn, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Name)
	}
	return fn(entry)
}

// DefaultRegistry returns a [Registry] with every built-in provider
// registered: the whisper-server ASR client, the HTTP TTS client, and the
// any-llm-go chat backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterASR("whisper", func(entry ProviderEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	r.RegisterTTS("http", func(entry ProviderEntry) (tts.Provider, error) {
		var opts []httptts.Option
		if entry.Voice != "" {
			opts = append(opts, httptts.WithVoice(entry.Voice))
		}
		return httptts.New(entry.BaseURL, opts...)
	})

	for _, name := range ValidProviderNames["llm"] {
		backend := name
		r.RegisterLLM(backend, func(entry ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	return r
}
