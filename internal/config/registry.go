package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]func(ProviderEntry) (stt.Transcriber, error)
	microphones  map[string]func(ProviderEntry) (audio.Microphone, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		microphones:  make(map[string]func(ProviderEntry) (audio.Microphone, error)),
	}
}

// RegisterTranscriber registers a speech-to-text factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// RegisterMicrophone registers a capture device factory under name.
func (r *Registry) RegisterMicrophone(name string, factory func(ProviderEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphones[name] = factory
}

// CreateTranscriber builds the transcriber registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMicrophone builds the microphone registered under entry.Name.
func (r *Registry) CreateMicrophone(entry ProviderEntry) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphones[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: microphone/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Transcribers returns the registered transcriber names, sorted.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.transcribers))
}

// Microphones returns the registered microphone names, sorted.
func (r *Registry) Microphones() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.microphones))
}

// OptString extracts a string value from a provider Options map. It
// returns "" if the key is absent or not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts a non-negative integer from a provider Options map. YAML
// decodes numbers as int; quoted numbers are accepted too. It returns 0 when
// the key is absent or not a number.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return max(v, 0)
	case float64:
		return max(int(v), 0)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return max(n, 0)
	}
	return 0
}
