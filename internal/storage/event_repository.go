package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/storage/models"
)

var _ repository.EventRepository = (*EventRepository)(nil)

// EventRepository implements repository.EventRepository as an append-only
// log stream backed by a Postgres table.
type EventRepository struct {
	db *bun.DB
}

// NewEventRepository builds an EventRepository.
func NewEventRepository(db *bun.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append records one log entry for an execution.
func (r *EventRepository) Append(ctx context.Context, executionID string, entry model.LogEntry) error {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	ev := models.EventFromLogEntry(id, entry)
	if _, err := r.db.NewInsert().Model(ev).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// List returns a page of an execution's log stream in sequence order
// (§4.6 "GetExecutionLogs").
func (r *EventRepository) List(ctx context.Context, executionID string, skip, take int) ([]model.LogEntry, error) {
	id, err := uuid.Parse(executionID)
	if err != nil {
		return nil, fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}
	var rows []*models.EventModel
	err = r.db.NewSelect().
		Model(&rows).
		Where("execution_id = ?", id).
		Order("sequence ASC").
		Offset(skip).
		Limit(take).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]model.LogEntry, len(rows))
	for i, ev := range rows {
		out[i] = models.LogEntryFromEvent(ev)
	}
	return out, nil
}
