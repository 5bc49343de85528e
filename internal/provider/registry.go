package provider

import (
	"fmt"
	"sync"

	"github.com/stacksmith-io/stacksmith/internal/source"
	"github.com/stacksmith-io/stacksmith/pkg/provider"
	"github.com/stacksmith-io/stacksmith/providers/aws"
	"github.com/stacksmith-io/stacksmith/providers/local"
	"github.com/stacksmith-io/stacksmith/providers/null"
)

// Registry manages the lifecycle of provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]provider.Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]provider.Adapter),
	}
}

// LoadProvider initializes and registers a built-in adapter. Adapters that
// read file-backed inputs share src with the engine, so apply reads the same
// artifacts the plan hashed.
func (r *Registry) LoadProvider(name string, src source.ContentSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return nil
	}
	if src == nil {
		src = source.NewFileSource("")
	}

	var a provider.Adapter
	switch name {
	case "null":
		a = null.New()
	case "local":
		a = local.NewWithSource(src)
	case "aws":
		a = aws.NewWithSource(src)
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.adapters[name] = a
	return nil
}

// Register installs an adapter under a name, replacing any existing one.
// Used by tests and embedders that bring their own adapters.
func (r *Registry) Register(name string, a provider.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

// Get returns a registered adapter.
func (r *Registry) Get(name string) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return a, nil
}
