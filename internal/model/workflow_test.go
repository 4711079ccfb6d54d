package model

import "testing"

func TestWorkflow_StartNodes_SingleNodeNoEdges(t *testing.T) {
	w := &Workflow{Nodes: []Node{{ID: "A", Name: "A"}}}
	starts := w.StartNodes()
	if len(starts) != 1 || starts[0].ID != "A" {
		t.Fatalf("expected A as sole start node, got %+v", starts)
	}
}

func TestWorkflow_StartNodes_LinearChain(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []Edge{{ID: "e1", Source: "A", Target: "B"}, {ID: "e2", Source: "B", Target: "C"}},
	}
	starts := w.StartNodes()
	if len(starts) != 1 || starts[0].ID != "A" {
		t.Fatalf("expected A as sole start node, got %+v", starts)
	}
}

func TestWorkflow_StartNodes_DisabledIncomingEdgeStillStart(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{{ID: "e1", Source: "A", Target: "B", Disabled: true}},
	}
	starts := w.StartNodes()
	ids := map[string]bool{}
	for _, n := range starts {
		ids[n.ID] = true
	}
	if !ids["A"] || !ids["B"] {
		t.Fatalf("expected both A and B to be start nodes when the only incoming edge is disabled, got %+v", starts)
	}
}

func TestEdge_Validate_InvalidTargetNode(t *testing.T) {
	nodeIDs := map[string]struct{}{"A": {}}
	e := Edge{ID: "e1", Source: "A", Target: "Z"}
	issues := e.Validate(nodeIDs)
	found := false
	for _, i := range issues {
		if i.Code == "INVALID_TARGET_NODE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected INVALID_TARGET_NODE, got %+v", issues)
	}
}

func TestEdge_Validate_SelfLoop(t *testing.T) {
	nodeIDs := map[string]struct{}{"A": {}}
	e := Edge{ID: "e1", Source: "A", Target: "A"}
	issues := e.Validate(nodeIDs)
	found := false
	for _, i := range issues {
		if i.Code == "SELF_LOOP" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SELF_LOOP, got %+v", issues)
	}
}

func TestEdge_Validate_LoopEdgeRequiresMaxIterations(t *testing.T) {
	nodeIDs := map[string]struct{}{"A": {}, "B": {}}
	e := Edge{ID: "e1", Source: "A", Target: "B", Kind: EdgeKindLoop}
	issues := e.Validate(nodeIDs)
	found := false
	for _, i := range issues {
		if i.Code == "LOOP_EDGE_MISSING_MAX_ITERATIONS" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LOOP_EDGE_MISSING_MAX_ITERATIONS, got %+v", issues)
	}
}

func TestEdge_Validate_LoopEdgeForbidsCondition(t *testing.T) {
	nodeIDs := map[string]struct{}{"A": {}, "B": {}}
	e := Edge{ID: "e1", Source: "A", Target: "B", Kind: EdgeKindLoop, Condition: "true", MaxIterations: 3}
	issues := e.Validate(nodeIDs)
	found := false
	for _, i := range issues {
		if i.Code == "LOOP_EDGE_WITH_CONDITION" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LOOP_EDGE_WITH_CONDITION, got %+v", issues)
	}
}
