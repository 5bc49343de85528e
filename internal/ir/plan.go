package ir

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`

	// Excluded lists addresses removed by their condition, so apply can
	// still account for every declared node in its report.
	Excluded []string `json:"excluded,omitempty"`
}

type PlanMetadata struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
}

type ResourceChange struct {
	Address string                   `json:"address"`
	Action  string                   `json:"action"` // "CREATE", "UPDATE", "REPLACE", "DELETE", "NOOP"
	Desired *Resource                `json:"desired,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`

	// ContentHashes maps file-backed input attributes to their content
	// digests, computed at plan time so apply sees the same identity.
	ContentHashes map[string]string `json:"content_hashes,omitempty"`
}

type PropertyDiff struct {
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
	Action string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
	Failed  int `json:"failed"`
}
