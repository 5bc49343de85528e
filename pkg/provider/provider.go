// Package provider defines the capability set every resource kind implements.
// The engine never special-cases a kind; all kind-specific behavior lives
// behind the Adapter interface.
package provider

import "context"

// Action is an adapter's verdict on how to converge a resource.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// PlanRequest carries one node's desired and last-applied attributes.
// DesiredJSON and PriorJSON are opaque to the engine; adapters unmarshal
// into their own kind-specific shapes.
type PlanRequest struct {
	Type          string
	Key           string
	DesiredJSON   []byte
	PriorJSON     []byte
	ContentHashes map[string]string // file-backed attribute -> digest
	PriorHashes   map[string]string
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type          string
	Key           string
	DesiredJSON   []byte
	PriorJSON     []byte
	ContentHashes map[string]string
}

// ApplyResponse carries the outputs recorded for the node; downstream
// references resolve against them once Apply returns successfully.
type ApplyResponse struct {
	OutputsJSON []byte
}

type DestroyRequest struct {
	Type      string
	Key       string
	ID        string
	PriorJSON []byte
}

// Adapter translates resource diffs into real infrastructure calls.
// Implementations must be idempotent: applying the same desired state twice
// with no drift yields a NOOP plan on the second call.
type Adapter interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Destroy(ctx context.Context, req *DestroyRequest) error
}
