package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/model"
)

func secondsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}

// ToJSONBMap round-trips v through JSON into a JSONBMap. Used for the
// handful of domain structs (ExecutionContext, Progress, Results) stored as
// a single jsonb column rather than individual ones, and exported for
// repositories that update a single jsonb column in isolation (progress,
// results) without rebuilding the whole model.
func ToJSONBMap(v any) JSONBMap {
	return toJSONBMap(v)
}

func toJSONBMap(v any) JSONBMap {
	b, err := json.Marshal(v)
	if err != nil {
		return JSONBMap{}
	}
	m := make(JSONBMap)
	_ = json.Unmarshal(b, &m)
	return m
}

func fromJSONBMap(m JSONBMap, out any) {
	if m == nil {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}

// WorkflowToStorage converts a domain workflow into its persisted form.
func WorkflowToStorage(w *model.Workflow) (*WorkflowModel, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil && w.ID != "" {
		return nil, err
	}
	if w.ID == "" {
		id = uuid.New()
	}

	nodes := make([]*NodeModel, len(w.Nodes))
	for i := range w.Nodes {
		nodes[i] = NodeToStorage(&w.Nodes[i], id)
	}
	edges := make([]*EdgeModel, len(w.Edges))
	for i := range w.Edges {
		edges[i] = EdgeToStorage(&w.Edges[i], id)
	}

	return &WorkflowModel{
		ID:        id,
		Name:      w.Name,
		Version:   w.Version,
		Status:    string(w.Status),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Nodes:     nodes,
		Edges:     edges,
	}, nil
}

// NodeToStorage converts a domain node into its persisted form.
func NodeToStorage(n *model.Node, workflowID uuid.UUID) *NodeModel {
	return &NodeModel{
		WorkflowID: workflowID,
		NodeID:     n.ID,
		Name:       n.Name,
		ProgramID:  n.ProgramID,
		VersionID:  n.VersionID,
		Disabled:   n.Disabled,
		UIType:     n.UIType,
		Input:      toJSONBMap(n.Input),
		Output:     toJSONBMap(n.Output),
		Execution:  toJSONBMap(n.Execution),
		Metadata:   JSONBMap(n.Metadata),
	}
}

// EdgeToStorage converts a domain edge into its persisted form.
func EdgeToStorage(e *model.Edge, workflowID uuid.UUID) *EdgeModel {
	return &EdgeModel{
		WorkflowID:    workflowID,
		EdgeID:        e.ID,
		FromNodeID:    e.Source,
		ToNodeID:      e.Target,
		Disabled:      e.Disabled,
		Kind:          string(e.Kind),
		SourceHandle:  e.SourceHandle,
		Condition:     e.Condition,
		MaxIterations: e.MaxIterations,
	}
}

// WorkflowFromStorage converts a persisted workflow (with its Nodes/Edges
// relations loaded) into the domain type the engine core operates on.
func WorkflowFromStorage(sw *WorkflowModel) *model.Workflow {
	nodes := make([]model.Node, len(sw.Nodes))
	for i, n := range sw.Nodes {
		nodes[i] = *NodeFromStorage(n)
	}
	edges := make([]model.Edge, len(sw.Edges))
	for i, e := range sw.Edges {
		edges[i] = *EdgeFromStorage(e)
	}
	return &model.Workflow{
		ID:        sw.ID.String(),
		Name:      sw.Name,
		Version:   sw.Version,
		Status:    model.WorkflowStatus(sw.Status),
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: sw.CreatedAt,
		UpdatedAt: sw.UpdatedAt,
	}
}

// NodeFromStorage converts a persisted node into the domain type.
func NodeFromStorage(sn *NodeModel) *model.Node {
	n := &model.Node{
		ID:        sn.NodeID,
		Name:      sn.Name,
		ProgramID: sn.ProgramID,
		VersionID: sn.VersionID,
		Disabled:  sn.Disabled,
		UIType:    sn.UIType,
		Metadata:  map[string]any(sn.Metadata),
	}
	fromJSONBMap(sn.Input, &n.Input)
	fromJSONBMap(sn.Output, &n.Output)
	fromJSONBMap(sn.Execution, &n.Execution)
	return n
}

// EdgeFromStorage converts a persisted edge into the domain type.
func EdgeFromStorage(se *EdgeModel) *model.Edge {
	return &model.Edge{
		ID:            se.EdgeID,
		Source:        se.FromNodeID,
		Target:        se.ToNodeID,
		Disabled:      se.Disabled,
		Kind:          model.EdgeKind(se.Kind),
		SourceHandle:  se.SourceHandle,
		Condition:     se.Condition,
		MaxIterations: se.MaxIterations,
	}
}

// ExecutionToStorage converts a domain execution into its persisted form.
// NodeExecutions are mapped separately by the caller since they're upserted
// independently of the parent row.
func ExecutionToStorage(e *model.WorkflowExecution) (*ExecutionModel, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, err
	}
	workflowID, err := uuid.Parse(e.WorkflowID)
	if err != nil {
		return nil, err
	}
	var executorID uuid.UUID
	if e.ExecutorID != "" {
		executorID, err = uuid.Parse(e.ExecutorID)
		if err != nil {
			return nil, err
		}
	}

	em := &ExecutionModel{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: e.WorkflowVersion,
		ExecutorID:      executorID,
		Status:          string(e.Status),
		Context:         toJSONBMap(e.Context),
		Progress:        toJSONBMap(e.Progress),
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
	}
	if e.Error != nil {
		em.ErrorType = string(e.Error.Type)
		em.ErrorMessage = e.Error.Message
		em.ErrorCanRetry = e.Error.CanRetry
	}
	if e.Results != nil {
		em.Results = toJSONBMap(e.Results)
	}
	return em, nil
}

// ExecutionFromStorage converts a persisted execution (with NodeExecutions
// relation loaded) into the domain type.
func ExecutionFromStorage(em *ExecutionModel) *model.WorkflowExecution {
	exec := &model.WorkflowExecution{
		ID:              em.ID.String(),
		WorkflowID:      em.WorkflowID.String(),
		WorkflowVersion: em.WorkflowVersion,
		Status:          model.ExecutionStatus(em.Status),
		NodeExecutions:  make(map[string]*model.NodeExecution, len(em.NodeExecutions)),
		StartedAt:       em.StartedAt,
		CompletedAt:     em.CompletedAt,
	}
	if em.ExecutorID != uuid.Nil {
		exec.ExecutorID = em.ExecutorID.String()
	}
	fromJSONBMap(em.Context, &exec.Context)
	fromJSONBMap(em.Progress, &exec.Progress)
	if em.ErrorType != "" {
		exec.Error = &apperr.WorkflowErrorDescriptor{
			Type:     apperr.WorkflowErrorType(em.ErrorType),
			Message:  em.ErrorMessage,
			CanRetry: em.ErrorCanRetry,
		}
	}
	if em.Results != nil {
		var results model.Results
		fromJSONBMap(em.Results, &results)
		exec.Results = &results
	}
	for _, ne := range em.NodeExecutions {
		domain := NodeExecutionFromStorage(ne)
		exec.NodeExecutions[domain.NodeID] = domain
	}
	return exec
}

// NodeExecutionToStorage converts a domain node execution into its
// persisted form.
func NodeExecutionToStorage(ne *model.NodeExecution) (*NodeExecutionModel, error) {
	id, err := uuid.Parse(ne.ID)
	if err != nil {
		return nil, err
	}
	executionID, err := uuid.Parse(ne.ExecutionID)
	if err != nil {
		return nil, err
	}

	nem := &NodeExecutionModel{
		ID:                id,
		ExecutionID:       executionID,
		NodeID:            ne.NodeID,
		Status:            string(ne.Status),
		RetryCount:        ne.RetryCount,
		MaxRetries:        ne.MaxRetries,
		Input:             JSONBMap(ne.Input),
		Output:            JSONBMap(ne.Output),
		RunnerExecutionID: ne.RunnerExecutionID,
		SkipReason:        ne.SkipReason,
		StartedAt:         ne.StartedAt,
		CompletedAt:       ne.CompletedAt,
	}
	if ne.Error != nil {
		nem.ErrorType = string(ne.Error.Type)
		nem.ErrorMessage = ne.Error.Message
		nem.ErrorExitCode = ne.Error.ExitCode
		nem.ErrorRetryable = ne.Error.Retryable
	}
	return nem, nil
}

// NodeExecutionFromStorage converts a persisted node execution into the
// domain type.
func NodeExecutionFromStorage(nem *NodeExecutionModel) *model.NodeExecution {
	ne := &model.NodeExecution{
		ID:                nem.ID.String(),
		ExecutionID:       nem.ExecutionID.String(),
		NodeID:            nem.NodeID,
		Status:            model.NodeExecutionStatus(nem.Status),
		RetryCount:        nem.RetryCount,
		MaxRetries:        nem.MaxRetries,
		Input:             map[string]any(nem.Input),
		Output:            map[string]any(nem.Output),
		RunnerExecutionID: nem.RunnerExecutionID,
		SkipReason:        nem.SkipReason,
		StartedAt:         nem.StartedAt,
		CompletedAt:       nem.CompletedAt,
	}
	if nem.ErrorType != "" {
		ne.Error = &apperr.NodeError{
			Type:      apperr.NodeErrorType(nem.ErrorType),
			Message:   nem.ErrorMessage,
			ExitCode:  nem.ErrorExitCode,
			Retryable: nem.ErrorRetryable,
		}
	}
	return ne
}

// EventFromLogEntry converts a domain log entry into its persisted form.
func EventFromLogEntry(executionID uuid.UUID, entry model.LogEntry) *EventModel {
	return &EventModel{
		ExecutionID: executionID,
		Level:       entry.Level,
		NodeID:      entry.NodeID,
		Message:     entry.Message,
		Metadata:    JSONBMap(entry.Metadata),
		CreatedAt:   entry.Timestamp,
	}
}

// LogEntryFromEvent converts a persisted event into the domain log entry.
func LogEntryFromEvent(ev *EventModel) model.LogEntry {
	return model.LogEntry{
		Timestamp: ev.CreatedAt,
		Level:     ev.Level,
		NodeID:    ev.NodeID,
		Message:   ev.Message,
		Metadata:  map[string]any(ev.Metadata),
	}
}

// UIInteractionToStorage converts a domain UI interaction into its
// persisted form.
func UIInteractionToStorage(u *model.UIInteraction) (*UIInteractionModel, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, err
	}
	executionID, err := uuid.Parse(u.ExecutionID)
	if err != nil {
		return nil, err
	}
	return &UIInteractionModel{
		ID:          id,
		ExecutionID: executionID,
		NodeID:      u.NodeID,
		Type:        string(u.Type),
		Status:      string(u.Status),
		Title:       u.Title,
		Description: u.Description,
		InputSchema: JSONBMap(u.InputSchema),
		InputData:   JSONBMap(u.InputData),
		OutputData:  JSONBMap(u.OutputData),
		TimeoutSecs: int64(u.Timeout.Seconds()),
		Metadata:    JSONBMap(u.Metadata),
		CreatedAt:   u.CreatedAt,
		CompletedAt: u.CompletedAt,
	}, nil
}

// UIInteractionFromStorage converts a persisted UI interaction into the
// domain type.
func UIInteractionFromStorage(um *UIInteractionModel) *model.UIInteraction {
	return &model.UIInteraction{
		ID:          um.ID.String(),
		ExecutionID: um.ExecutionID.String(),
		NodeID:      um.NodeID,
		Type:        model.UIInteractionType(um.Type),
		Status:      model.UIInteractionStatus(um.Status),
		Title:       um.Title,
		Description: um.Description,
		InputSchema: map[string]any(um.InputSchema),
		InputData:   map[string]any(um.InputData),
		OutputData:  map[string]any(um.OutputData),
		Timeout:     secondsToDuration(um.TimeoutSecs),
		Metadata:    map[string]any(um.Metadata),
		CreatedAt:   um.CreatedAt,
		CompletedAt: um.CompletedAt,
	}
}
