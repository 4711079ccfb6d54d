// Package model defines the engine's core data model (§3): Workflow, Node,
// Edge, WorkflowExecution, NodeExecution, WorkflowDataContract and
// UIInteraction.
package model

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle status of a workflow definition itself
// (distinct from WorkflowExecution's runtime status).
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// EdgeKind distinguishes normal DAG edges from loop edges, which are
// observed only by complexity metrics (§3 "Edge").
type EdgeKind string

const (
	EdgeKindNormal EdgeKind = "normal"
	EdgeKindLoop   EdgeKind = "loop"
)

// ResourceLimits bounds a node's sandboxed execution (§3 "ExecutionSettings").
type ResourceLimits struct {
	MaxCPUPercentage int `json:"maxCpuPercentage,omitempty"`
	MaxMemoryMB      int `json:"maxMemoryMb,omitempty"`
	MaxDiskMB        int `json:"maxDiskMb,omitempty"`
}

// ExecutionSettings is a node's timeout/retry/environment/resource policy.
type ExecutionSettings struct {
	TimeoutMinutes int               `json:"timeoutMinutes,omitempty"`
	MaxRetries     int               `json:"maxRetries,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	ResourceLimits ResourceLimits    `json:"resourceLimits,omitempty"`
}

// UserInputDeclaration is a single user-declared input slot on a node.
type UserInputDeclaration struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// InputMapping is a legacy by-name input wiring entry (§4.3).
type InputMapping struct {
	SourceNodeID     string `json:"sourceNodeId"`
	SourceOutputName string `json:"sourceOutputName"`
	InputName        string `json:"inputName"`
	Transformation   string `json:"transformation,omitempty"`
	DefaultValue     any    `json:"defaultValue,omitempty"`
	IsOptional       bool   `json:"isOptional"`
}

// OutputMapping extracts a named output field from a runner result,
// optionally transformed (§4.3 "Output processing").
type OutputMapping struct {
	OutputName     string `json:"outputName"`
	SourceField    string `json:"sourceField"`
	Transformation string `json:"transformation,omitempty"`
}

// InputConfiguration groups a node's static inputs, user-declared inputs and
// legacy input mappings (§3 "Node").
type InputConfiguration struct {
	StaticInputs map[string]any         `json:"staticInputs,omitempty"`
	UserInputs   []UserInputDeclaration `json:"userInputs,omitempty"`
	Mappings     []InputMapping         `json:"mappings,omitempty"`
}

// OutputConfiguration groups a node's output mappings.
type OutputConfiguration struct {
	Mappings []OutputMapping `json:"mappings,omitempty"`
}

// Node is a single program invocation within a workflow (§3 "Node").
type Node struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProgramID   string `json:"programId"`
	VersionID   string `json:"versionId,omitempty"`
	Disabled    bool   `json:"disabled"`

	Input     InputConfiguration  `json:"input"`
	Output    OutputConfiguration `json:"output"`
	Execution ExecutionSettings   `json:"execution"`

	// UIType classifies the node's interactivity (§4.5). Empty defaults to
	// "console" (non-interactive) for programs that don't declare one.
	UIType string `json:"uiType,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the node's own invariants (§4.1 "ValidateNodes").
func (n *Node) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if n.ID == "" {
		issues = append(issues, newError("MISSING_NODE_ID", "node is missing an id", ""))
	}
	if n.Name == "" {
		issues = append(issues, newError("MISSING_NODE_NAME", "node "+n.ID+" is missing a name", n.ID))
	}
	if n.Execution.TimeoutMinutes < 0 {
		issues = append(issues, newWarning("INVALID_TIMEOUT", "node "+n.ID+" has a non-positive timeout", n.ID))
	}
	if n.Execution.ResourceLimits.MaxMemoryMB < 0 || n.Execution.ResourceLimits.MaxCPUPercentage < 0 || n.Execution.ResourceLimits.MaxDiskMB < 0 {
		issues = append(issues, newWarning("INVALID_RESOURCE_LIMIT", "node "+n.ID+" has a non-positive resource limit", n.ID))
	}
	return issues
}

// Edge is a directed, optionally-disabled connection between two nodes
// (§3 "Edge").
type Edge struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Disabled     bool     `json:"disabled"`
	Kind         EdgeKind `json:"kind,omitempty"`
	SourceHandle string   `json:"sourceHandle,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
}

// IsLoop reports whether the edge is a loop-back edge.
func (e *Edge) IsLoop() bool { return e.Kind == EdgeKindLoop }

// Validate checks the edge's own invariants (§4.1 "ValidateEdges").
func (e *Edge) Validate(nodeIDs map[string]struct{}) []ValidationIssue {
	var issues []ValidationIssue
	if _, ok := nodeIDs[e.Source]; !ok {
		issues = append(issues, newError("INVALID_SOURCE_NODE", "edge "+e.ID+" references unknown source "+e.Source, e.ID))
	}
	if _, ok := nodeIDs[e.Target]; !ok {
		issues = append(issues, newError("INVALID_TARGET_NODE", "edge "+e.ID+" references unknown target "+e.Target, e.ID))
	}
	if e.Source == e.Target {
		issues = append(issues, newError("SELF_LOOP", "edge "+e.ID+" is a self-loop on "+e.Source, e.ID))
	}
	if e.IsLoop() {
		if e.Condition != "" {
			issues = append(issues, newError("LOOP_EDGE_WITH_CONDITION", "loop edge "+e.ID+" must not carry a condition", e.ID))
		}
		if e.MaxIterations <= 0 {
			issues = append(issues, newError("LOOP_EDGE_MISSING_MAX_ITERATIONS", "loop edge "+e.ID+" requires MaxIterations > 0", e.ID))
		}
	}
	return issues
}

// Workflow is an immutable-during-execution DAG of Nodes and Edges (§3).
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     int            `json:"version"`
	Status      WorkflowStatus `json:"status"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// GetNode returns the node with the given id, if present.
func (w *Workflow) GetNode(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// GetEdge returns the edge with the given id, if present.
func (w *Workflow) GetEdge(id string) (*Edge, bool) {
	for i := range w.Edges {
		if w.Edges[i].ID == id {
			return &w.Edges[i], true
		}
	}
	return nil, false
}

// EnabledEdges returns the edges that participate in scheduling/validation
// (§3 "an edge may be marked disabled").
func (w *Workflow) EnabledEdges() []Edge {
	out := make([]Edge, 0, len(w.Edges))
	for _, e := range w.Edges {
		if !e.Disabled {
			out = append(out, e)
		}
	}
	return out
}

// EnabledNodes returns the nodes that participate in scheduling/validation.
func (w *Workflow) EnabledNodes() []Node {
	out := make([]Node, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if !n.Disabled {
			out = append(out, n)
		}
	}
	return out
}

// IncomingEnabledEdges returns the enabled edges targeting nodeID.
func (w *Workflow) IncomingEnabledEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if !e.Disabled && e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEnabledEdges returns the enabled edges sourced from nodeID.
func (w *Workflow) OutgoingEnabledEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if !e.Disabled && e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// StartNodes returns enabled nodes with no enabled incoming edge (§3).
func (w *Workflow) StartNodes() []Node {
	hasIncoming := make(map[string]bool)
	for _, e := range w.EnabledEdges() {
		if e.IsLoop() {
			continue
		}
		hasIncoming[e.Target] = true
	}
	var out []Node
	for _, n := range w.EnabledNodes() {
		if !hasIncoming[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

var errDuplicateNodeID = errors.New("duplicate node id")

// DuplicateNodeIDError wraps errDuplicateNodeID with the offending id, so
// callers can match the underlying sentinel with errors.Is while still
// getting a message naming the specific id.
func DuplicateNodeIDError(nodeID string) error {
	return fmt.Errorf("%w: %q", errDuplicateNodeID, nodeID)
}

// DuplicateNodeIDs returns the ids of nodes that appear more than once in
// the workflow, in order of first repeated occurrence. ValidateNodes uses
// this to raise a DUPLICATE_NODE_ID error per repeated id (§4.1
// "ValidateNodes").
func (w *Workflow) DuplicateNodeIDs() []string {
	seen := map[string]bool{}
	var dups []string
	for _, n := range w.Nodes {
		if n.ID == "" {
			continue
		}
		if seen[n.ID] {
			dups = append(dups, n.ID)
		}
		seen[n.ID] = true
	}
	return dups
}

// Clone copies w and gives the copy its own Nodes and Edges slices. Maps
// and slices inside each Node (inputs, mappings, environment, metadata)
// are shared with w, not copied.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Nodes = make([]Node, len(w.Nodes))
	copy(clone.Nodes, w.Nodes)
	clone.Edges = make([]Edge, len(w.Edges))
	copy(clone.Edges, w.Edges)
	return &clone
}
