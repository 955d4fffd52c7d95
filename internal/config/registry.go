package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// KeyChecker pre-validates a credential against a backend.
type KeyChecker interface {
	Check(ctx context.Context, apiKey string) error
}

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	dialers     map[string]func(SessionConfig) (s2s.Dialer, error)
	keyCheckers map[string]func(SessionConfig) (KeyChecker, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		dialers:     make(map[string]func(SessionConfig) (s2s.Dialer, error)),
		keyCheckers: make(map[string]func(SessionConfig) (KeyChecker, error)),
	}
}

// RegisterDialer registers a transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDialer(name string, factory func(SessionConfig) (s2s.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[name] = factory
}

// RegisterKeyChecker registers a credential pre-validation factory under name.
func (r *Registry) RegisterKeyChecker(name string, factory func(SessionConfig) (KeyChecker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyCheckers[name] = factory
}

// Providers returns the sorted names of every registered dialer.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialers))
	for n := range r.dialers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateDialer instantiates the dialer registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateDialer(cfg SessionConfig) (s2s.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.dialers[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dialer/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateKeyChecker instantiates the key checker registered under
// cfg.Provider.
func (r *Registry) CreateKeyChecker(cfg SessionConfig) (KeyChecker, error) {
	r.mu.RLock()
	factory, ok := r.keyCheckers[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: keychecker/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
