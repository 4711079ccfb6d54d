package model

import (
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
)

// ExecutionStatus is the runtime status of a WorkflowExecution (§3).
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "Pending"
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionPaused    ExecutionStatus = "Paused"
	ExecutionCompleted ExecutionStatus = "Completed"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionCancelled ExecutionStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is expected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// NodeExecutionStatus is the runtime status of a single NodeExecution (§3).
type NodeExecutionStatus string

const (
	NodePending         NodeExecutionStatus = "Pending"
	NodeRunning         NodeExecutionStatus = "Running"
	NodeWaitingForInput NodeExecutionStatus = "WaitingForInput"
	NodeCompleted       NodeExecutionStatus = "Completed"
	NodeFailed          NodeExecutionStatus = "Failed"
	NodeSkipped         NodeExecutionStatus = "Skipped"
	NodeRetrying        NodeExecutionStatus = "Retrying"
)

// IsTerminal reports whether the node will not transition further without
// an explicit operator action (RetryNode).
func (s NodeExecutionStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

// Satisfied reports whether the status counts as "satisfied" for a
// successor's dependency check (§4.4 "all enabled predecessors must be in
// {Completed, Skipped}").
func (s NodeExecutionStatus) Satisfied() bool {
	return s == NodeCompleted || s == NodeSkipped
}

// CanTransitionToRunning enforces the node-status invariant in §3: "A node
// can transition to Running only from Pending or Retrying".
func CanTransitionToRunning(from NodeExecutionStatus) bool {
	return from == NodePending || from == NodeRetrying
}

// CanTransitionToWaitingForInput enforces "to WaitingForInput only from
// Running".
func CanTransitionToWaitingForInput(from NodeExecutionStatus) bool {
	return from == NodeRunning
}

// CanTransitionToTerminal enforces "to Completed/Failed/Skipped only from
// Running or WaitingForInput".
func CanTransitionToTerminal(from NodeExecutionStatus) bool {
	return from == NodeRunning || from == NodeWaitingForInput
}

// ExecutionContext carries the per-execution parameters supplied at
// admission time (§3 "WorkflowExecution").
type ExecutionContext struct {
	// UserInputs is keyed by "{nodeId}.{inputName}" (§4.1 "ValidateExecution").
	UserInputs         map[string]any `json:"userInputs,omitempty"`
	MaxConcurrentNodes int            `json:"maxConcurrentNodes"`
	TimeoutMinutes     int            `json:"timeoutMinutes"`
	ContinueOnError    bool           `json:"continueOnError"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Progress is the execution's progress summary (§3).
type Progress struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Running        int     `json:"running"`
	PercentComplete float64 `json:"percentComplete"`
	Phase          string  `json:"phase"`
}

// Results is the execution's final results record, populated on completion
// (§3 "on completion — a Results record").
type Results struct {
	// FinalOutputs holds the output of each terminal (leaf) node.
	FinalOutputs map[string]WorkflowDataContract `json:"finalOutputs"`
	// IntermediateResults holds the output of every completed node.
	IntermediateResults map[string]WorkflowDataContract `json:"intermediateResults"`
	OutputFiles         []OutputFileRef                 `json:"outputFiles,omitempty"`
	Summary             string                           `json:"summary"`
}

// OutputFileRef indexes a single output file produced by a node (§4.3).
type OutputFileRef struct {
	NodeID   string `json:"nodeId"`
	FileName string `json:"fileName"`
	Path     string `json:"path"`
}

// LogEntry is one line of the execution's append-only log stream (§7
// "Visibility").
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	NodeID    string         `json:"nodeId,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WorkflowExecution is the durable record of one run (§3).
type WorkflowExecution struct {
	ID              string                       `json:"id"`
	WorkflowID      string                       `json:"workflowId"`
	WorkflowVersion int                          `json:"workflowVersion"`
	ExecutorID      string                       `json:"executorId"`
	Status          ExecutionStatus              `json:"status"`
	Context         ExecutionContext             `json:"context"`
	NodeExecutions  map[string]*NodeExecution    `json:"nodeExecutions"`
	Progress        Progress                     `json:"progress"`
	Error           *apperr.WorkflowErrorDescriptor `json:"error,omitempty"`
	Results         *Results                    `json:"results,omitempty"`
	StartedAt       time.Time                    `json:"startedAt"`
	CompletedAt     *time.Time                   `json:"completedAt,omitempty"`
}

// NodeExecution is one per node per execution (§3).
type NodeExecution struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	NodeID      string                 `json:"nodeId"`
	Status      NodeExecutionStatus    `json:"status"`
	RetryCount  int                    `json:"retryCount"`
	MaxRetries  int                    `json:"maxRetries"`
	Input       map[string]any         `json:"input,omitempty"`
	Output      map[string]any         `json:"output,omitempty"`
	Error       *apperr.NodeError      `json:"error,omitempty"`
	RunnerExecutionID string           `json:"runnerExecutionId,omitempty"`
	SkipReason  string                 `json:"skipReason,omitempty"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// CanRetry reports whether an operator-initiated retry is still allowed
// (§4.6 "RetryNode").
func (ne *NodeExecution) CanRetry() bool {
	return ne.Status == NodeFailed && ne.RetryCount < ne.MaxRetries
}
