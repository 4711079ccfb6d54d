package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/storage/models"
)

var _ repository.UIInteractionRepository = (*UIInteractionRepository)(nil)

// UIInteractionRepository implements repository.UIInteractionRepository
// over Postgres via bun.
type UIInteractionRepository struct {
	db *bun.DB
}

// NewUIInteractionRepository builds a UIInteractionRepository.
func NewUIInteractionRepository(db *bun.DB) *UIInteractionRepository {
	return &UIInteractionRepository{db: db}
}

// Create persists a newly-opened interaction.
func (r *UIInteractionRepository) Create(ctx context.Context, interaction *model.UIInteraction) error {
	um, err := models.UIInteractionToStorage(interaction)
	if err != nil {
		return fmt.Errorf("invalid ui interaction: %w", err)
	}
	if _, err := r.db.NewInsert().Model(um).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert ui interaction: %w", err)
	}
	return nil
}

// GetByID loads a single interaction.
func (r *UIInteractionRepository) GetByID(ctx context.Context, interactionID string) (*model.UIInteraction, error) {
	id, err := uuid.Parse(interactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid interaction id %q: %w", interactionID, err)
	}
	um := &models.UIInteractionModel{}
	if err := r.db.NewSelect().Model(um).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ui interaction: %w", err)
	}
	return models.UIInteractionFromStorage(um), nil
}

// UpdateStatus transitions an interaction's status and, when completing it,
// records the submitted output data (§4.5 "Resume").
func (r *UIInteractionRepository) UpdateStatus(ctx context.Context, interactionID string, status model.UIInteractionStatus, outputData map[string]any) error {
	id, err := uuid.Parse(interactionID)
	if err != nil {
		return fmt.Errorf("invalid interaction id %q: %w", interactionID, err)
	}
	q := r.db.NewUpdate().
		Model((*models.UIInteractionModel)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", id)
	if outputData != nil {
		q = q.Set("output_data = ?", models.JSONBMap(outputData))
	}
	if status == model.UIInteractionCompleted || status == model.UIInteractionCancelled || status == model.UIInteractionTimeout {
		now := time.Now()
		q = q.Set("completed_at = ?", now)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update ui interaction status: %w", err)
	}
	return nil
}

// GetByWorkflowExecution returns every interaction ever opened for an
// execution, oldest first.
func (r *UIInteractionRepository) GetByWorkflowExecution(ctx context.Context, executionID string) ([]*model.UIInteraction, error) {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return nil, fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	var rows []*models.UIInteractionModel
	if err := r.db.NewSelect().Model(&rows).Where("execution_id = ?", id).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list ui interactions: %w", err)
	}
	return fromStorageSlice(rows), nil
}

// GetActiveInteractions returns every interaction currently Pending or
// InProgress, across all executions — the set the suspended-node timeout
// sweep polls.
func (r *UIInteractionRepository) GetActiveInteractions(ctx context.Context) ([]*model.UIInteraction, error) {
	var rows []*models.UIInteractionModel
	err := r.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In([]string{string(model.UIInteractionPending), string(model.UIInteractionInProgress)})).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active ui interactions: %w", err)
	}
	return fromStorageSlice(rows), nil
}

// GetTimedOutInteractions returns every active interaction whose timeout has
// elapsed as of now (§4.5 "Resume ... Verify the timeout has not elapsed").
func (r *UIInteractionRepository) GetTimedOutInteractions(ctx context.Context, now int64) ([]*model.UIInteraction, error) {
	cutoff := time.Unix(now, 0)
	var rows []*models.UIInteractionModel
	err := r.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In([]string{string(model.UIInteractionPending), string(model.UIInteractionInProgress)})).
		Where("created_at + (timeout_seconds * interval '1 second') < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list timed out ui interactions: %w", err)
	}
	return fromStorageSlice(rows), nil
}

func fromStorageSlice(rows []*models.UIInteractionModel) []*model.UIInteraction {
	out := make([]*model.UIInteraction, len(rows))
	for i, row := range rows {
		out[i] = models.UIInteractionFromStorage(row)
	}
	return out
}
