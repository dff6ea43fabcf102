package adapters

import (
	"strings"
	"sync"

	gatewaydomain "github.com/smallbiznis/recurra/internal/gateway/domain"
)

// Registry resolves payment gateway adapters by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]gatewaydomain.Gateway
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]gatewaydomain.Gateway)}
}

func (r *Registry) Register(name string, gw gatewaydomain.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	r.adapters[name] = gw
	if r.fallback == "" {
		r.fallback = name
	}
}

func (r *Registry) Resolve(name string) (gatewaydomain.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	gw, ok := r.adapters[name]
	if !ok {
		return nil, gatewaydomain.ErrProviderNotFound
	}
	return gw, nil
}
