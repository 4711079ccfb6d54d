package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UIInteractionModel is the database row for a suspended node's pending
// user-input request (§3 "UIInteraction", §4.5).
type UIInteractionModel struct {
	bun.BaseModel `bun:"table:ui_interactions,alias:ui"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	ExecutionID uuid.UUID  `bun:"execution_id,notnull,type:uuid"`
	NodeID      string     `bun:"node_id,notnull"`
	Type        string     `bun:"type,notnull,default:'UserInput'"`
	Status      string     `bun:"status,notnull,default:'Pending'"`
	Title       string     `bun:"title"`
	Description string     `bun:"description"`
	InputSchema JSONBMap   `bun:"input_schema,type:jsonb"`
	InputData   JSONBMap   `bun:"input_data,type:jsonb"`
	OutputData  JSONBMap   `bun:"output_data,type:jsonb"`
	TimeoutSecs int64      `bun:"timeout_seconds,notnull,default:1800"`
	Metadata    JSONBMap   `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	CompletedAt *time.Time `bun:"completed_at"`
}

func (UIInteractionModel) TableName() string { return "ui_interactions" }

func (u *UIInteractionModel) BeforeInsert(context.Context) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
