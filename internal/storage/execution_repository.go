package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/storage/models"
)

var _ repository.ExecutionRepository = (*ExecutionRepository)(nil)

// ExecutionRepository implements repository.ExecutionRepository over
// Postgres via bun.
type ExecutionRepository struct {
	db *bun.DB
}

// NewExecutionRepository builds an ExecutionRepository.
func NewExecutionRepository(db *bun.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create persists a freshly-admitted execution together with its seeded
// (Pending) node executions.
func (r *ExecutionRepository) Create(ctx context.Context, exec *model.WorkflowExecution) error {
	em, err := models.ExecutionToStorage(exec)
	if err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(em).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}
		for _, ne := range exec.NodeExecutions {
			nem, err := models.NodeExecutionToStorage(ne)
			if err != nil {
				return fmt.Errorf("invalid node execution %s: %w", ne.NodeID, err)
			}
			if _, err := tx.NewInsert().Model(nem).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert node execution %s: %w", ne.NodeID, err)
			}
		}
		return nil
	})
}

// GetByID loads an execution with all of its node executions.
func (r *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return nil, fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}

	em := &models.ExecutionModel{}
	err = r.db.NewSelect().
		Model(em).
		Relation("NodeExecutions").
		Where("ex.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s not found: %w", executionID, err)
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return models.ExecutionFromStorage(em), nil
}

// UpdateStatus updates an execution's status in isolation.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, executionID string, status model.ExecutionStatus) error {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	_, err = r.db.NewUpdate().
		Model((*models.ExecutionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

// UpdateProgress updates an execution's progress summary in isolation.
func (r *ExecutionRepository) UpdateProgress(ctx context.Context, executionID string, progress model.Progress) error {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	_, err = r.db.NewUpdate().
		Model((*models.ExecutionModel)(nil)).
		Set("progress = ?", models.ToJSONBMap(progress)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update execution progress: %w", err)
	}
	return nil
}

// UpdateNodeExecution overwrites a single node execution row.
func (r *ExecutionRepository) UpdateNodeExecution(ctx context.Context, executionID, nodeID string, ne *model.NodeExecution) error {
	nem, err := models.NodeExecutionToStorage(ne)
	if err != nil {
		return fmt.Errorf("invalid node execution: %w", err)
	}
	_, err = r.db.NewUpdate().
		Model(nem).
		Column("status", "retry_count", "max_retries", "input", "output",
			"error_type", "error_message", "error_exit_code", "error_retryable",
			"runner_execution_id", "skip_reason", "started_at", "completed_at", "updated_at").
		Where("id = ?", nem.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update node execution %s/%s: %w", executionID, nodeID, err)
	}
	return nil
}

// SetError records the execution-level error descriptor.
func (r *ExecutionRepository) SetError(ctx context.Context, executionID string, descriptor *apperr.WorkflowErrorDescriptor) error {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	_, err = r.db.NewUpdate().
		Model((*models.ExecutionModel)(nil)).
		Set("error_type = ?", string(descriptor.Type)).
		Set("error_message = ?", descriptor.Message).
		Set("error_can_retry = ?", descriptor.CanRetry).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set execution error: %w", err)
	}
	return nil
}

// SetResults records an execution's final results record (§3 "on
// completion — a Results record").
func (r *ExecutionRepository) SetResults(ctx context.Context, executionID string, results *model.Results) error {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	_, err = r.db.NewUpdate().
		Model((*models.ExecutionModel)(nil)).
		Set("results = ?", models.ToJSONBMap(results)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set execution results: %w", err)
	}
	return nil
}

// GetRunningExecutions returns every execution persisted as Running,
// regardless of whether it's still live in the Session Registry — the
// caller (startup reconciliation) is responsible for that comparison.
func (r *ExecutionRepository) GetRunningExecutions(ctx context.Context) ([]*model.WorkflowExecution, error) {
	var rows []*models.ExecutionModel
	err := r.db.NewSelect().
		Model(&rows).
		Relation("NodeExecutions").
		Where("status = ?", string(model.ExecutionRunning)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running executions: %w", err)
	}
	out := make([]*model.WorkflowExecution, len(rows))
	for i, row := range rows {
		out[i] = models.ExecutionFromStorage(row)
	}
	return out, nil
}

// ListByWorkflow returns a workflow's execution history, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error) {
	id, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow id %q: %w", workflowID, err)
	}
	var rows []*models.ExecutionModel
	err = r.db.NewSelect().
		Model(&rows).
		Where("workflow_id = ?", id).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions by workflow: %w", err)
	}
	out := make([]*model.WorkflowExecution, len(rows))
	for i, row := range rows {
		out[i] = models.ExecutionFromStorage(row)
	}
	return out, nil
}
