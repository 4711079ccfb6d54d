// Package validator implements the Validator component (§4.1): pure,
// read-only, deterministic checks over a workflow graph.
package validator

import (
	"fmt"

	"github.com/smilemakc/workflow-engine/internal/model"
)

// ProgramLookup resolves a program/version reference for
// ValidateDependencies (§4.1). It is the validator's only external
// collaborator — the entity-CRUD services for programs/versions are an
// out-of-scope external collaborator (§1).
type ProgramLookup interface {
	// ProgramExists reports whether programID exists and, if found, its
	// status (e.g. "live").
	ProgramExists(programID string) (status string, ok bool)
	// VersionExists reports whether versionID exists and belongs to programID.
	VersionExists(programID, versionID string) bool
}

// Validator runs the graph-shape, dependency, and execution-context checks
// of §4.1. It holds no mutable state; every method is safe for concurrent
// use.
type Validator struct {
	programs ProgramLookup
}

// New builds a Validator. programs may be nil, in which case
// ValidateDependencies is skipped (useful for structure-only validation).
func New(programs ProgramLookup) *Validator {
	return &Validator{programs: programs}
}

// ValidateWorkflow runs every check and merges the results, matching the
// admission-time contract of §4.6 "Execute": any error blocks admission.
func (v *Validator) ValidateWorkflow(w *model.Workflow, ctx *model.ExecutionContext) *model.ValidationResult {
	result := &model.ValidationResult{}

	result.Merge(v.ValidateNodes(w))
	result.Merge(v.ValidateEdges(w))
	result.Merge(v.ValidateStructure(w))
	if v.programs != nil {
		result.Merge(v.ValidateDependencies(w))
	}
	if ctx != nil {
		result.Merge(v.ValidateExecution(w, ctx))
	}
	metrics := v.ComplexityMetrics(w)
	result.Metrics = &metrics

	return result
}

// ValidateNodes checks presence of id/name and settings sanity (§4.1
// "ValidateNodes").
func (v *Validator) ValidateNodes(w *model.Workflow) *model.ValidationResult {
	result := &model.ValidationResult{}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		for _, issue := range n.Validate() {
			result.Add(issue)
		}
	}
	for _, dupID := range w.DuplicateNodeIDs() {
		result.Add(model.ValidationIssue{Code: "DUPLICATE_NODE_ID", Message: model.DuplicateNodeIDError(dupID).Error(), Severity: model.SeverityError, NodeID: dupID})
	}
	return result
}

// ValidateEdges checks each edge's endpoints and loop-edge shape (§4.1
// "ValidateEdges").
func (v *Validator) ValidateEdges(w *model.Workflow) *model.ValidationResult {
	result := &model.ValidationResult{}
	nodeIDs := nodeIDSet(w)
	for i := range w.Edges {
		e := &w.Edges[i]
		for _, issue := range e.Validate(nodeIDs) {
			result.Add(issue)
		}
	}
	return result
}

// ValidateStructure detects cycles, orphans, and unreachable nodes over
// enabled edges, and checks for start/end nodes (§4.1 "ValidateStructure").
func (v *Validator) ValidateStructure(w *model.Workflow) *model.ValidationResult {
	result := &model.ValidationResult{}

	adj, _ := buildAdjacency(w)

	if cycleNode, found := detectCycle(w, adj); found {
		result.Add(model.ValidationIssue{
			Code: "CYCLE_DETECTED", Severity: model.SeverityError,
			Message: fmt.Sprintf("cycle detected involving node %q", cycleNode), NodeID: cycleNode,
		})
	}

	starts := w.StartNodes()
	if len(starts) == 0 {
		result.Add(model.ValidationIssue{Code: "NO_START_NODE", Severity: model.SeverityError, Message: "workflow has no start node"})
	}

	reachable := reachableFrom(starts, adj)
	incident := map[string]bool{}
	for _, e := range w.EnabledEdges() {
		incident[e.Source] = true
		incident[e.Target] = true
	}

	hasEnd := false
	outDeg := map[string]int{}
	for _, e := range w.EnabledEdges() {
		if e.IsLoop() {
			continue
		}
		outDeg[e.Source]++
	}
	for _, n := range w.EnabledNodes() {
		if !incident[n.ID] {
			result.Add(model.ValidationIssue{Code: "ORPHAN_NODE", Severity: model.SeverityWarning, Message: fmt.Sprintf("node %q has no enabled edges", n.ID), NodeID: n.ID})
		} else if !reachable[n.ID] {
			result.Add(model.ValidationIssue{Code: "UNREACHABLE_NODE", Severity: model.SeverityWarning, Message: fmt.Sprintf("node %q is not reachable from any start node", n.ID), NodeID: n.ID})
		}
		if outDeg[n.ID] == 0 {
			hasEnd = true
		}
	}
	if !hasEnd && len(w.EnabledNodes()) > 0 {
		result.Add(model.ValidationIssue{Code: "NO_END_NODE", Severity: model.SeverityWarning, Message: "workflow has no end node"})
	}

	return result
}

// ValidateDependencies checks that each node's program (and optional
// version) exists, and warns if the program is not live (§4.1
// "ValidateDependencies").
func (v *Validator) ValidateDependencies(w *model.Workflow) *model.ValidationResult {
	result := &model.ValidationResult{}
	if v.programs == nil {
		return result
	}
	for _, n := range w.EnabledNodes() {
		status, ok := v.programs.ProgramExists(n.ProgramID)
		if !ok {
			result.Add(model.ValidationIssue{Code: "PROGRAM_NOT_FOUND", Severity: model.SeverityError, Message: fmt.Sprintf("node %q references unknown program %q", n.ID, n.ProgramID), NodeID: n.ID})
			continue
		}
		if status != "live" {
			result.Add(model.ValidationIssue{Code: "PROGRAM_NOT_LIVE", Severity: model.SeverityWarning, Message: fmt.Sprintf("node %q's program %q is not live (status=%s)", n.ID, n.ProgramID, status), NodeID: n.ID})
		}
		if n.VersionID != "" && !v.programs.VersionExists(n.ProgramID, n.VersionID) {
			result.Add(model.ValidationIssue{Code: "VERSION_NOT_FOUND", Severity: model.SeverityError, Message: fmt.Sprintf("node %q references unknown version %q", n.ID, n.VersionID), NodeID: n.ID})
		}
	}
	return result
}

// ValidateExecution checks that every required user input is present and
// that the execution context's caps are positive (§4.1 "ValidateExecution").
func (v *Validator) ValidateExecution(w *model.Workflow, ctx *model.ExecutionContext) *model.ValidationResult {
	result := &model.ValidationResult{}

	for _, n := range w.EnabledNodes() {
		for _, ui := range n.Input.UserInputs {
			if !ui.Required {
				continue
			}
			key := n.ID + "." + ui.Name
			val, ok := ctx.UserInputs[key]
			if !ok || val == nil {
				result.Add(model.ValidationIssue{
					Code: "MISSING_USER_INPUT", Severity: model.SeverityError,
					Message: fmt.Sprintf("required user input %q is missing", key), NodeID: n.ID,
				})
			}
		}
	}

	if ctx.MaxConcurrentNodes <= 0 {
		result.Add(model.ValidationIssue{Code: "INVALID_MAX_CONCURRENT_NODES", Severity: model.SeverityError, Message: "MaxConcurrentNodes must be > 0"})
	}
	if ctx.TimeoutMinutes <= 0 {
		result.Add(model.ValidationIssue{Code: "INVALID_TIMEOUT_MINUTES", Severity: model.SeverityError, Message: "TimeoutMinutes must be > 0"})
	}

	return result
}

// TopologicalOrder returns nodes in topological order over enabled edges,
// for log/display purposes only — the scheduler never depends on this for
// correctness (§4.1 "TopologicalOrder").
func (v *Validator) TopologicalOrder(w *model.Workflow) ([]string, error) {
	adj, indeg := buildAdjacency(w)
	queue := make([]string, 0)
	for _, n := range w.EnabledNodes() {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	order := make([]string, 0, len(w.EnabledNodes()))
	remaining := indeg
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(w.EnabledNodes()) {
		return nil, fmt.Errorf("CYCLE_DETECTED: cannot produce a topological order")
	}
	return order, nil
}

// ComplexityMetrics computes structural metrics (§4.1 "ComplexityMetrics").
func (v *Validator) ComplexityMetrics(w *model.Workflow) model.ComplexityMetrics {
	adj, _ := buildAdjacency(w)
	starts := w.StartNodes()

	depth := map[string]int{}
	for _, n := range w.EnabledNodes() {
		depth[n.ID] = -1
	}
	order, err := v.TopologicalOrder(w)
	if err == nil {
		for _, s := range starts {
			depth[s.ID] = 0
		}
		for _, id := range order {
			for _, next := range adj[id] {
				if depth[id]+1 > depth[next] {
					depth[next] = depth[id] + 1
				}
			}
		}
	}

	maxDepth := 0
	widthByLevel := map[int]int{}
	for _, d := range depth {
		if d < 0 {
			continue
		}
		if d > maxDepth {
			maxDepth = d
		}
		widthByLevel[d]++
	}
	maxWidth := 0
	for _, width := range widthByLevel {
		if width > maxWidth {
			maxWidth = width
		}
	}
	if len(w.EnabledNodes()) > 0 && maxWidth == 0 {
		maxWidth = 1
	}

	nodeCount := len(w.EnabledNodes())
	edgeCount := len(w.EnabledEdges())

	connectivity := 0.0
	if nodeCount > 0 {
		connectivity = float64(edgeCount) / float64(nodeCount)
	}

	conditionalNodes := 0
	for _, e := range w.EnabledEdges() {
		if e.Condition != "" {
			conditionalNodes++
		}
	}
	cyclomatic := edgeCount - nodeCount + 2 + conditionalNodes

	level := model.ComplexitySimple
	switch {
	case nodeCount > 50 || cyclomatic > 20:
		level = model.ComplexityVeryComplex
	case nodeCount > 20 || cyclomatic > 10:
		level = model.ComplexityComplex
	case nodeCount > 8 || cyclomatic > 4:
		level = model.ComplexityModerate
	}

	return model.ComplexityMetrics{
		NodeCount:         nodeCount,
		EdgeCount:         edgeCount,
		MaxDepth:          maxDepth,
		MaxWidth:          maxWidth,
		ConnectivityRatio: connectivity,
		CyclomaticScore:   cyclomatic,
		Level:             level,
	}
}

func nodeIDSet(w *model.Workflow) map[string]struct{} {
	out := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		out[n.ID] = struct{}{}
	}
	return out
}

// buildAdjacency builds a forward adjacency list and in-degree map over
// enabled, non-loop edges whose endpoints both exist in the node set.
func buildAdjacency(w *model.Workflow) (map[string][]string, map[string]int) {
	adj := map[string][]string{}
	indeg := map[string]int{}
	ids := nodeIDSet(w)
	for _, n := range w.EnabledNodes() {
		indeg[n.ID] = 0
	}
	for _, e := range w.EnabledEdges() {
		if e.IsLoop() {
			continue
		}
		if _, ok := ids[e.Source]; !ok {
			continue
		}
		if _, ok := ids[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indeg[e.Target]++
	}
	return adj, indeg
}

// detectCycle runs a depth-first search with a three-color recursion set,
// reporting the first node found to close a back-edge (§4.1
// "ValidateStructure ... fails with CYCLE_DETECTED if a back-edge is found").
func detectCycle(w *model.Workflow, adj map[string][]string) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	for _, n := range w.EnabledNodes() {
		color[n.ID] = white
	}

	var stack []string
	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return next, true
			case white:
				if found, ok := visit(next); ok {
					return found, true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return "", false
	}

	for _, n := range w.EnabledNodes() {
		if color[n.ID] == white {
			if found, ok := visit(n.ID); ok {
				return found, true
			}
		}
	}
	return "", false
}
