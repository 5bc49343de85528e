package engine

import (
	"fmt"
	"os"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/provider"
	"github.com/stacksmith-io/stacksmith/internal/source"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

const (
	defaultParallelism = 10
	maxParallelism     = 64
)

// Engine orchestrates the lifecycle of resource nodes for one run at a time.
// It owns all node state transitions; adapters only ever see desired and
// prior attributes.
type Engine struct {
	registry    *provider.Registry
	source      source.ContentSource
	parallelism int
	events      func(ApplyEvent)
}

// ApplyEvent notifies an observer of one node status transition while a run
// is in flight.
type ApplyEvent struct {
	Address string
	Status  ir.NodeStatus
	Err     error
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds the apply worker pool. Values outside [1,
// maxParallelism] are a configuration error reported by NewEngine.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithContentSource overrides where file-backed input attributes are read
// and hashed from.
func WithContentSource(s source.ContentSource) Option {
	return func(e *Engine) { e.source = s }
}

// WithEventSink registers an observer for per-node transitions. The sink is
// called from worker goroutines and must be safe for concurrent use.
func WithEventSink(fn func(ApplyEvent)) Option {
	return func(e *Engine) { e.events = fn }
}

func NewEngine(registry *provider.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:    registry,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 || e.parallelism > maxParallelism {
		return nil, &ConcurrencyLimitError{Requested: e.parallelism, Max: maxParallelism}
	}
	if e.source == nil {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		e.source = source.NewFileSource(wd)
	}
	return e, nil
}

func (e *Engine) emit(addr string, status ir.NodeStatus, err error) {
	if e.events != nil {
		e.events(ApplyEvent{Address: addr, Status: status, Err: err})
	}
}

// ensureProvider returns the adapter for name, loading the built-in one if
// nothing is registered yet. Tests and embedders can pre-register adapters
// and the built-in lookup never runs for them.
func (e *Engine) ensureProvider(name string) (sdk.Adapter, error) {
	if a, err := e.registry.Get(name); err == nil {
		return a, nil
	}
	if err := e.registry.LoadProvider(name, e.source); err != nil {
		return nil, err
	}
	return e.registry.Get(name)
}

// contentHashes digests every file:// input attribute of a resource. The
// returned map is keyed by the dotted attribute path so the same artifact
// referenced from two attributes hashes once per use site.
func (e *Engine) contentHashes(res *ir.Resource) (map[string]string, error) {
	hashes := make(map[string]string)
	if err := e.hashValue("", res.Inputs, hashes); err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	return hashes, nil
}

func (e *Engine) hashValue(path string, v any, hashes map[string]string) error {
	switch val := v.(type) {
	case string:
		if p, ok := source.IsRef(val); ok {
			digest, err := e.source.Digest(p)
			if err != nil {
				return err
			}
			hashes[path] = digest
		}
	case map[string]any:
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if err := e.hashValue(childPath, child, hashes); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := e.hashValue(fmt.Sprintf("%s[%d]", path, i), child, hashes); err != nil {
				return err
			}
		}
	}
	return nil
}

// hashesEqual reports whether two content-hash sets describe identical
// artifacts.
func hashesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
