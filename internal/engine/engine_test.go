package engine

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksmith-io/stacksmith/internal/ir"
	"github.com/stacksmith-io/stacksmith/internal/provider"
	"github.com/stacksmith-io/stacksmith/internal/source"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

// fakeResource builds a resource handled by the fake adapter.
func fakeResource(key string, inputs map[string]any) *ir.Resource {
	return &ir.Resource{Type: "fake.Thing", Key: key, Provider: "fake", Inputs: inputs}
}

// fakeAdapter is an in-memory adapter for engine tests. Plan compares
// desired and prior inputs; Apply records outputs derived from the key.
type fakeAdapter struct {
	mu         sync.Mutex
	planErr    map[string]error
	applyErr   map[string]error
	destroyErr map[string]error

	planCalls  int
	applied    []string
	destroyed  []string
	applyBody  map[string][]byte
	applyDelay time.Duration

	inFlight    int
	maxInFlight int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		planErr:    make(map[string]error),
		applyErr:   make(map[string]error),
		destroyErr: make(map[string]error),
		applyBody:  make(map[string][]byte),
	}
}

func (f *fakeAdapter) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	f.mu.Lock()
	f.planCalls++
	err := f.planErr[req.Key]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(desired, prior) {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate}, nil
	}
	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (f *fakeAdapter) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.applyDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	err := f.applyErr[req.Key]
	if err == nil {
		f.applied = append(f.applied, req.Key)
		f.applyBody[req.Key] = req.DesiredJSON
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	outputs, _ := json.Marshal(map[string]any{"id": "fake-" + req.Key})
	return &sdk.ApplyResponse{OutputsJSON: outputs}, nil
}

func (f *fakeAdapter) Destroy(ctx context.Context, req *sdk.DestroyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.destroyErr[req.Key]; err != nil {
		return err
	}
	f.destroyed = append(f.destroyed, req.Key)
	return nil
}

// memSource is an in-memory ContentSource.
type memSource map[string]string

func (m memSource) Read(path string) ([]byte, error) {
	content, ok := m[path]
	if !ok {
		return nil, &source.ErrContentUnavailable{Path: path, Err: os.ErrNotExist}
	}
	return []byte(content), nil
}

func (m memSource) Digest(path string) (string, error) {
	content, err := m.Read(path)
	if err != nil {
		return "", err
	}
	return source.HashBytes(content), nil
}

func newTestEngine(t *testing.T, adapter sdk.Adapter, opts ...Option) *Engine {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register("fake", adapter)
	eng, err := NewEngine(registry, append([]Option{WithContentSource(memSource{})}, opts...)...)
	require.NoError(t, err)
	return eng
}

func TestNewEngine_DefaultParallelism(t *testing.T) {
	registry := provider.NewRegistry()
	eng, err := NewEngine(registry, WithContentSource(memSource{}))
	require.NoError(t, err)
	assert.Equal(t, defaultParallelism, eng.parallelism)
}

func TestNewEngine_ParallelismOutOfRange(t *testing.T) {
	registry := provider.NewRegistry()

	for _, n := range []int{0, -1, maxParallelism + 1} {
		_, err := NewEngine(registry, WithParallelism(n))
		var limit *ConcurrencyLimitError
		require.ErrorAs(t, err, &limit, "parallelism %d", n)
		assert.Equal(t, n, limit.Requested)
		assert.Equal(t, maxParallelism, limit.Max)
	}
}

func TestNewEngine_ParallelismAtBounds(t *testing.T) {
	registry := provider.NewRegistry()

	for _, n := range []int{1, maxParallelism} {
		_, err := NewEngine(registry, WithParallelism(n), WithContentSource(memSource{}))
		assert.NoError(t, err, "parallelism %d", n)
	}
}

func TestContentHashes_NestedInputs(t *testing.T) {
	src := memSource{"a.txt": "hello", "b.txt": "world"}
	eng := newTestEngine(t, newFakeAdapter(), WithContentSource(src))

	hashes, err := eng.contentHashes(fakeResource("x", map[string]any{
		"source": "file://a.txt",
		"nested": map[string]any{"other": "file://b.txt"},
		"plain":  "not-a-file",
	}))
	require.NoError(t, err)

	assert.Equal(t, source.HashBytes([]byte("hello")), hashes["source"])
	assert.Equal(t, source.HashBytes([]byte("world")), hashes["nested.other"])
	assert.NotContains(t, hashes, "plain")
}

func TestHashesEqual(t *testing.T) {
	assert.True(t, hashesEqual(nil, nil))
	assert.True(t, hashesEqual(map[string]string{"a": "1"}, map[string]string{"a": "1"}))
	assert.False(t, hashesEqual(map[string]string{"a": "1"}, map[string]string{"a": "2"}))
	assert.False(t, hashesEqual(map[string]string{"a": "1"}, nil))
}
