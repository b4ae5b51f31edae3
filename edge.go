package chronograph

// Edge is a directed dependency between two nodes in a workflow graph.
// The target node becomes eligible to run only after every source node
// feeding it has resolved.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Condition is an optional script expression evaluated against the
	// workflow's shared variables when the source node resolves. A node with
	// only falsy conditioned in-edges is skipped rather than executed.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}
