package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExecutionModel is the durable record of one workflow run (§3
// "WorkflowExecution").
type ExecutionModel struct {
	bun.BaseModel `bun:"table:executions,alias:ex"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	WorkflowID      uuid.UUID  `bun:"workflow_id,notnull,type:uuid"`
	WorkflowVersion int        `bun:"workflow_version,notnull,default:1"`
	ExecutorID      uuid.UUID  `bun:"executor_id,type:uuid"`
	Status          string     `bun:"status,notnull,default:'Pending'"`
	Context         JSONBMap   `bun:"context,type:jsonb,notnull,default:'{}'"`
	Progress        JSONBMap   `bun:"progress,type:jsonb,notnull,default:'{}'"`
	ErrorType       string     `bun:"error_type"`
	ErrorMessage    string     `bun:"error_message"`
	ErrorCanRetry   bool       `bun:"error_can_retry,notnull,default:false"`
	Results         JSONBMap   `bun:"results,type:jsonb"`
	StartedAt       time.Time  `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt     *time.Time `bun:"completed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	Workflow       *WorkflowModel        `bun:"rel:belongs-to,join:workflow_id=id"`
	NodeExecutions []*NodeExecutionModel `bun:"rel:has-many,join:id=execution_id"`
}

func (ExecutionModel) TableName() string { return "executions" }

func (e *ExecutionModel) BeforeInsert(context.Context) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *ExecutionModel) BeforeUpdate(context.Context) error {
	e.UpdatedAt = time.Now()
	return nil
}

// NodeExecutionModel is one row per node per execution (§3 "NodeExecution").
type NodeExecutionModel struct {
	bun.BaseModel `bun:"table:node_executions,alias:ne"`

	ID                uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	ExecutionID       uuid.UUID  `bun:"execution_id,notnull,type:uuid"`
	NodeID            string     `bun:"node_id,notnull"`
	Status            string     `bun:"status,notnull,default:'Pending'"`
	RetryCount        int        `bun:"retry_count,notnull,default:0"`
	MaxRetries        int        `bun:"max_retries,notnull,default:0"`
	Input             JSONBMap   `bun:"input,type:jsonb"`
	Output            JSONBMap   `bun:"output,type:jsonb"`
	ErrorType         string     `bun:"error_type"`
	ErrorMessage      string     `bun:"error_message"`
	ErrorExitCode     *int       `bun:"error_exit_code"`
	ErrorRetryable    bool       `bun:"error_retryable,notnull,default:false"`
	RunnerExecutionID string     `bun:"runner_execution_id"`
	SkipReason        string     `bun:"skip_reason"`
	StartedAt         *time.Time `bun:"started_at"`
	CompletedAt       *time.Time `bun:"completed_at"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	Execution *ExecutionModel `bun:"rel:belongs-to,join:execution_id=id"`
}

func (NodeExecutionModel) TableName() string { return "node_executions" }

func (ne *NodeExecutionModel) BeforeInsert(context.Context) error {
	now := time.Now()
	ne.CreatedAt = now
	ne.UpdatedAt = now
	if ne.ID == uuid.Nil {
		ne.ID = uuid.New()
	}
	return nil
}

func (ne *NodeExecutionModel) BeforeUpdate(context.Context) error {
	ne.UpdatedAt = time.Now()
	return nil
}
