package chronograph

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Options are used to configure a workflow.
type Options struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Path        string         `json:"path,omitempty" yaml:"path,omitempty"`
	Nodes       []*Node        `json:"nodes" yaml:"nodes"`
	Edges       []*Edge        `json:"edges,omitempty" yaml:"edges,omitempty"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Workflow defines a repeatable process as a directed acyclic graph of nodes.
// A workflow is immutable once constructed; all runtime state lives in the
// engine that executes it.
type Workflow struct {
	name             string
	description      string
	path             string
	nodes            []*Node
	edges            []*Edge
	nodesByID        map[string]*Node
	inEdges          map[string][]*Edge
	outEdges         map[string][]*Edge
	entryNodes       []string
	initialVariables map[string]any
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: workflow name required", ErrInvalidWorkflow)
	}
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("%w: workflow must have at least one node", ErrInvalidWorkflow)
	}

	nodesByID := make(map[string]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("%w: node id required", ErrInvalidWorkflow)
		}
		if _, exists := nodesByID[node.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidWorkflow, node.ID)
		}
		nodesByID[node.ID] = node
	}

	inEdges := make(map[string][]*Edge)
	outEdges := make(map[string][]*Edge)
	for _, edge := range opts.Edges {
		if _, ok := nodesByID[edge.From]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %q", ErrInvalidWorkflow, edge.From)
		}
		if _, ok := nodesByID[edge.To]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %q", ErrInvalidWorkflow, edge.To)
		}
		if edge.From == edge.To {
			return nil, fmt.Errorf("%w: node %q depends on itself", ErrInvalidWorkflow, edge.From)
		}
		inEdges[edge.To] = append(inEdges[edge.To], edge)
		outEdges[edge.From] = append(outEdges[edge.From], edge)
	}

	if err := detectCycle(opts.Nodes, inEdges); err != nil {
		return nil, err
	}

	var entryNodes []string
	for _, node := range opts.Nodes {
		if len(inEdges[node.ID]) == 0 {
			entryNodes = append(entryNodes, node.ID)
		}
	}

	return &Workflow{
		name:             opts.Name,
		description:      opts.Description,
		path:             opts.Path,
		nodes:            opts.Nodes,
		edges:            opts.Edges,
		nodesByID:        nodesByID,
		inEdges:          inEdges,
		outEdges:         outEdges,
		entryNodes:       entryNodes,
		initialVariables: opts.Variables,
	}, nil
}

// detectCycle runs Kahn's algorithm over the graph and reports an error if
// any node is unreachable from the entry set, which means a cycle exists.
func detectCycle(nodes []*Node, inEdges map[string][]*Edge) error {
	indegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		indegree[node.ID] = len(inEdges[node.ID])
	}
	var queue []string
	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}
	visited := 0
	outgoing := make(map[string][]string)
	for to, edges := range inEdges {
		for _, edge := range edges {
			outgoing[edge.From] = append(outgoing[edge.From], to)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range outgoing[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(nodes) {
		return fmt.Errorf("%w: workflow graph contains a cycle", ErrInvalidWorkflow)
	}
	return nil
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Path returns the workflow path
func (w *Workflow) Path() string {
	return w.path
}

// Nodes returns the workflow nodes
func (w *Workflow) Nodes() []*Node {
	return w.nodes
}

// Edges returns the workflow edges
func (w *Workflow) Edges() []*Edge {
	return w.edges
}

// InitialVariables returns the variables a run starts with
func (w *Workflow) InitialVariables() map[string]any {
	return w.initialVariables
}

// GetNode returns a node by id
func (w *Workflow) GetNode(id string) (*Node, bool) {
	node, ok := w.nodesByID[id]
	return node, ok
}

// NodeIDs returns the ids of all nodes in the workflow, sorted
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w.nodesByID))
	for id := range w.nodesByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InEdges returns the edges feeding into the given node
func (w *Workflow) InEdges(id string) []*Edge {
	return w.inEdges[id]
}

// OutEdges returns the edges leaving the given node
func (w *Workflow) OutEdges(id string) []*Edge {
	return w.outEdges[id]
}

// EntryNodes returns the ids of nodes with no dependencies. These form the
// first wave of every run.
func (w *Workflow) EntryNodes() []string {
	return w.entryNodes
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var opts Options
	if err := yaml.Unmarshal(yamlData, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	opts.Path = path
	return New(opts)
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return New(opts)
}
