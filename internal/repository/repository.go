// Package repository defines the persistence interfaces the engine core
// consumes (§6 "Consumed collaborator interfaces"). Concrete
// implementations live in internal/storage; the core never imports that
// package, only these interfaces.
package repository

import (
	"context"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/model"
)

// WorkflowRepository is the workflow-definition database of record (§6).
type WorkflowRepository interface {
	GetByID(ctx context.Context, workflowID string) (*model.Workflow, error)
	HasPermission(ctx context.Context, workflowID, userID, permission string) (bool, error)
}

// ExecutionRepository is the execution database of record (§6).
type ExecutionRepository interface {
	Create(ctx context.Context, exec *model.WorkflowExecution) error
	GetByID(ctx context.Context, executionID string) (*model.WorkflowExecution, error)
	UpdateStatus(ctx context.Context, executionID string, status model.ExecutionStatus) error
	UpdateProgress(ctx context.Context, executionID string, progress model.Progress) error
	UpdateNodeExecution(ctx context.Context, executionID, nodeID string, ne *model.NodeExecution) error
	SetError(ctx context.Context, executionID string, descriptor *apperr.WorkflowErrorDescriptor) error
	SetResults(ctx context.Context, executionID string, results *model.Results) error
	GetRunningExecutions(ctx context.Context) ([]*model.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error)
}

// EventRepository is the append-only execution log stream (§6, §4.6
// "GetExecutionLogs").
type EventRepository interface {
	Append(ctx context.Context, executionID string, entry model.LogEntry) error
	List(ctx context.Context, executionID string, skip, take int) ([]model.LogEntry, error)
}

// UIInteractionRepository is the UI interaction database of record (§6).
type UIInteractionRepository interface {
	Create(ctx context.Context, interaction *model.UIInteraction) error
	GetByID(ctx context.Context, interactionID string) (*model.UIInteraction, error)
	UpdateStatus(ctx context.Context, interactionID string, status model.UIInteractionStatus, outputData map[string]any) error
	GetByWorkflowExecution(ctx context.Context, executionID string) ([]*model.UIInteraction, error)
	GetActiveInteractions(ctx context.Context) ([]*model.UIInteraction, error)
	GetTimedOutInteractions(ctx context.Context, now int64) ([]*model.UIInteraction, error)
}
