package ir

// StateVersion is the current state schema version.
const StateVersion = 1

// State represents the persistent record of applied resources.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

type ResourceState struct {
	Type          string            `json:"type"`
	Key           string            `json:"key"`
	Provider      string            `json:"provider"`
	Inputs        map[string]any    `json:"inputs"` // user provided
	ContentHashes map[string]string `json:"content_hashes,omitempty"`
	Outputs       map[string]any    `json:"outputs"` // adapter returned
	Dependencies  []string          `json:"dependencies,omitempty"`
}
