package provider

import (
	"os"
	"sync"

	"github.com/arcsign/exitbook/internal/errs"
)

// entry pairs a registered provider's declared metadata with its factory
// and (once built) its cached client instance.
type entry struct {
	meta    Metadata
	factory Factory
	client  ApiClient // lazily populated, cached thereafter
}

// Registry is the process-wide provider catalog. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry // providerName -> entry
}

// New constructs an empty Registry. Most callers want the process-wide
// singleton returned by Global.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide Registry singleton, grounded on
// src/chainadapter/provider/registry.go's GetRegistry pattern.
func Global() *Registry {
	globalOnce.Do(func() { global = New() })
	return global
}

// Register enrolls a provider's metadata and factory. Per spec §4.2,
// construction validates that an API-key-required provider's env var is
// present before instantiation; if it is absent, Register returns an error
// and the provider is NOT enrolled (it is simply unavailable, not fatal to
// the caller — callers decide whether a missing provider is fatal).
func (r *Registry) Register(meta Metadata, factory Factory) error {
	if meta.ProviderName == "" {
		return errs.New(errs.InvalidArgs, "provider metadata missing providerName")
	}
	if factory == nil {
		return errs.New(errs.InvalidArgs, "provider factory is nil")
	}
	if meta.APIKeyEnvVar != "" {
		if _, ok := os.LookupEnv(meta.APIKeyEnvVar); !ok {
			return errs.Newf(errs.InvalidArgs, "provider %s requires env var %s which is not set", meta.ProviderName, meta.APIKeyEnvVar)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.ProviderName]; exists {
		return errs.Newf(errs.ConflictingState, "provider %s already registered", meta.ProviderName)
	}
	r.entries[meta.ProviderName] = &entry{meta: meta, factory: factory}
	return nil
}

// Get returns the (lazily constructed, then cached) client for
// providerName. Grounded on registry.go's GetProvider double-checked-lock
// cache pattern.
func (r *Registry) Get(providerName string) (ApiClient, error) {
	r.mu.RLock()
	e, ok := r.entries[providerName]
	if ok && e.client != nil {
		client := e.client
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	if !ok {
		return nil, errs.Newf(errs.NotFound, "provider %s is not registered", providerName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := e.factory(e.meta)
	if err != nil {
		return nil, errs.WrapProvider(errs.ProviderUnavailable, "failed to construct provider client", providerName, "construct", false, 0, err)
	}
	e.client = client
	return client, nil
}

// Metadata returns the declared metadata for providerName.
func (r *Registry) Metadata(providerName string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[providerName]
	if !ok {
		return Metadata{}, false
	}
	return e.meta, true
}

// ProvidersForChain returns the metadata of every provider declaring
// support for chain. The entries are read from a map, so the order of the
// result is not defined.
func (r *Registry) ProvidersForChain(chain string) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metadata
	for _, e := range r.entries {
		if e.meta.SupportsChain(chain) {
			out = append(out, e.meta)
		}
	}
	return out
}

// List returns the metadata of every registered provider.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta)
	}
	return out
}
