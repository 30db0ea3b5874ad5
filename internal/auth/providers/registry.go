package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
)

// ErrNotConfigured means the provider's credentials are absent. Requests
// for it get a "needs configuration" answer before any network call.
var ErrNotConfigured = errors.New("providers: not configured")

// ErrNotRegistered means credentials were present but the strategy failed
// to construct. Distinct from ErrNotConfigured so the operator sees
// "misconfigured", not "missing".
var ErrNotRegistered = errors.New("providers: failed to register")

// Factory builds a provider strategy from its credential block.
type Factory func(cfg config.Credentials) (*Provider, error)

// Registry holds the configured and registered state per provider key.
// It is written once at startup and read-only afterwards, so lookups take
// no lock.
type Registry struct {
	mu         sync.Mutex // guards Register during startup only
	configured map[string]bool
	providers  map[string]*Provider
	failed     map[string]error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configured: map[string]bool{},
		providers:  map[string]*Provider{},
		failed:     map[string]error{},
	}
}

// Register records credential presence for key and, when present, attempts
// strategy construction via factory. Construction failure is recorded, not
// fatal: the rest of the providers still come up.
func (r *Registry) Register(key string, creds config.Credentials, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configured[key] = creds.Enabled && creds.Present()
	if !r.configured[key] {
		return
	}
	p, err := factory(creds)
	if err != nil {
		r.failed[key] = err
		logger.L().Warn("provider failed to register", logger.Provider(key), logger.Err(err))
		return
	}
	r.providers[key] = p
	logger.L().Info("provider registered", logger.Provider(key))
}

// Configured is the pure credential-presence check.
func (r *Registry) Configured(key string) bool { return r.configured[key] }

// Registered reports whether the strategy actually constructed.
func (r *Registry) Registered(key string) bool { return r.providers[key] != nil }

// Get returns the strategy for key, or an error distinguishing absent
// credentials from failed construction.
func (r *Registry) Get(key string) (*Provider, error) {
	if p := r.providers[key]; p != nil {
		return p, nil
	}
	if !r.configured[key] {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}
	if err := r.failed[key]; err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRegistered, key, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
}

// Keys returns every provider key the registry has seen, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.configured))
	for k := range r.configured {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
