package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkflowModel is the database row for a workflow definition (§3 "Workflow").
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	Name      string    `bun:"name,notnull"`
	Version   int       `bun:"version,notnull,default:1"`
	Status    string    `bun:"status,notnull,default:'draft'"`
	CreatedBy *uuid.UUID `bun:"created_by,type:uuid"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Nodes []*NodeModel `bun:"rel:has-many,join:id=workflow_id"`
	Edges []*EdgeModel `bun:"rel:has-many,join:id=workflow_id"`
}

func (WorkflowModel) TableName() string { return "workflows" }

// BeforeInsert sets CreatedAt and UpdatedAt to the current time and assigns
// an id when the caller left it zero.
func (w *WorkflowModel) BeforeInsert(context.Context) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate refreshes UpdatedAt on every mutation.
func (w *WorkflowModel) BeforeUpdate(context.Context) error {
	w.UpdatedAt = time.Now()
	return nil
}

// NodeModel is the database row for a single workflow node (§3 "Node").
type NodeModel struct {
	bun.BaseModel `bun:"table:workflow_nodes,alias:n"`

	ID         uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	WorkflowID uuid.UUID `bun:"workflow_id,notnull,type:uuid"`
	NodeID     string    `bun:"node_id,notnull"`
	Name       string    `bun:"name,notnull"`
	ProgramID  string    `bun:"program_id,notnull"`
	VersionID  string    `bun:"version_id"`
	Disabled   bool      `bun:"disabled,notnull,default:false"`
	UIType     string    `bun:"ui_type"`
	Input      JSONBMap  `bun:"input,type:jsonb,notnull,default:'{}'"`
	Output     JSONBMap  `bun:"output,type:jsonb,notnull,default:'{}'"`
	Execution  JSONBMap  `bun:"execution_settings,type:jsonb,notnull,default:'{}'"`
	Metadata   JSONBMap  `bun:"metadata,type:jsonb,default:'{}'"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id"`
}

func (NodeModel) TableName() string { return "workflow_nodes" }

func (n *NodeModel) BeforeInsert(context.Context) error {
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

func (n *NodeModel) BeforeUpdate(context.Context) error {
	n.UpdatedAt = time.Now()
	return nil
}

// EdgeModel is the database row for a directed edge between two nodes
// (§3 "Edge").
type EdgeModel struct {
	bun.BaseModel `bun:"table:workflow_edges,alias:e"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	WorkflowID    uuid.UUID `bun:"workflow_id,notnull,type:uuid"`
	EdgeID        string    `bun:"edge_id,notnull"`
	FromNodeID    string    `bun:"from_node_id,notnull"`
	ToNodeID      string    `bun:"to_node_id,notnull"`
	Disabled      bool      `bun:"disabled,notnull,default:false"`
	Kind          string    `bun:"kind,notnull,default:'normal'"`
	SourceHandle  string    `bun:"source_handle"`
	Condition     string    `bun:"condition"`
	MaxIterations int       `bun:"max_iterations,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id"`
}

func (EdgeModel) TableName() string { return "workflow_edges" }

func (e *EdgeModel) BeforeInsert(context.Context) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *EdgeModel) BeforeUpdate(context.Context) error {
	e.UpdatedAt = time.Now()
	return nil
}

// WorkflowPermissionModel grants a user a named permission on a workflow.
// The engine core has no broader auth model of its own (§6 "HasPermission"
// is the only permission surface the facade consumes).
type WorkflowPermissionModel struct {
	bun.BaseModel `bun:"table:workflow_permissions,alias:wp"`

	WorkflowID uuid.UUID `bun:"workflow_id,pk,type:uuid"`
	UserID     uuid.UUID `bun:"user_id,pk,type:uuid"`
	Permission string    `bun:"permission,pk,notnull"`
	GrantedAt  time.Time `bun:"granted_at,notnull,default:current_timestamp"`
}

func (WorkflowPermissionModel) TableName() string { return "workflow_permissions" }
