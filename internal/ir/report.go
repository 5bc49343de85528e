package ir

// NodeStatus tracks a resource node through one reconciliation run.
type NodeStatus string

const (
	StatusPending    NodeStatus = "pending"
	StatusPlanned    NodeStatus = "planned"
	StatusApplying   NodeStatus = "applying"
	StatusApplied    NodeStatus = "applied"
	StatusFailed     NodeStatus = "failed"
	StatusDestroying NodeStatus = "destroying"
	StatusDestroyed  NodeStatus = "destroyed"
	StatusExcluded   NodeStatus = "excluded" // removed by its condition before graph build
)

// Report is the run control surface result: one entry per node, in plan
// order, recorded even when other nodes failed.
type Report struct {
	RunID   string         `json:"run_id"`
	Mode    string         `json:"mode"` // "plan", "apply", "destroy"
	Entries []*ReportEntry `json:"entries"`
}

type ReportEntry struct {
	Address string     `json:"address"`
	Prior   NodeStatus `json:"prior"`
	Status  NodeStatus `json:"status"`
	Error   string     `json:"error,omitempty"`
}

// Append records one node transition.
func (r *Report) Append(address string, prior, status NodeStatus, err error) {
	entry := &ReportEntry{Address: address, Prior: prior, Status: status}
	if err != nil {
		entry.Error = err.Error()
	}
	r.Entries = append(r.Entries, entry)
}

// Failed returns the number of nodes that ended the run in StatusFailed.
func (r *Report) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == StatusFailed {
			n++
		}
	}
	return n
}
