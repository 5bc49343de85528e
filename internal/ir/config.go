package ir

// Config represents the top-level configuration document.
type Config struct {
	Variables map[string]any `json:"variables,omitempty"`
	Resources []*Resource    `json:"resources"`
	Outputs   map[string]any `json:"outputs,omitempty"`
}
