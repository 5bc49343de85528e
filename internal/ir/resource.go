package ir

// Resource is the declarative specification of one desired infrastructure
// object. ForEach and Count expand a single declaration into many concrete
// specs before graph construction; Condition gates whether the resource
// enters the graph at all.
type Resource struct {
	Type      string         `json:"type"` // e.g. "aws.s3.Object"
	Key       string         `json:"key"`
	Provider  string         `json:"provider"`
	Lifecycle *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	ForEach   any            `json:"for_each,omitempty"` // map[string]any or []any
	Count     int            `json:"count,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Timeout   string         `json:"timeout,omitempty"`
	Inputs    map[string]any `json:"inputs"`
}

type Lifecycle struct {
	PreventDestroy bool     `json:"prevent_destroy,omitempty"`
	IgnoreChanges  []string `json:"ignore_changes,omitempty"`
}
