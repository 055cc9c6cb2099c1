package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnsupportedGateway = errors.New("unsupported payment gateway")

// Factory builds a Gateway. Construction may be expensive (PayPal performs an
// OAuth token fetch on first use), so the registry builds lazily and caches
// the instance for its own lifetime.
type Factory func() Gateway

type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Gateway),
	}
}

// Register binds a gateway name to a factory. Registering an existing name
// replaces the binding and drops any cached instance.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.instances, name)
}

func (r *Registry) Resolve(name string) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.instances[name]; ok {
		return g, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	g := f()
	r.instances[name] = g
	return g, nil
}

func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
