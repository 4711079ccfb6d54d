package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventModel is one append-only row in an execution's log stream (§7
// "Visibility", §4.6 "GetExecutionLogs").
type EventModel struct {
	bun.BaseModel `bun:"table:execution_events,alias:ev"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	ExecutionID uuid.UUID `bun:"execution_id,notnull,type:uuid"`
	Sequence    int64     `bun:"sequence,notnull,autoincrement"`
	Level       string    `bun:"level,notnull"`
	NodeID      string    `bun:"node_id"`
	Message     string    `bun:"message,notnull"`
	Metadata    JSONBMap  `bun:"metadata,type:jsonb,default:'{}'"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (EventModel) TableName() string { return "execution_events" }

func (e *EventModel) BeforeInsert(context.Context) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
