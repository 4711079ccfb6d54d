package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/storage/models"
)

var _ repository.WorkflowRepository = (*WorkflowRepository)(nil)

// WorkflowRepository implements repository.WorkflowRepository over Postgres
// via bun.
type WorkflowRepository struct {
	db *bun.DB
}

// NewWorkflowRepository builds a WorkflowRepository.
func NewWorkflowRepository(db *bun.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetByID loads a workflow definition with its nodes and edges.
func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID string) (*model.Workflow, error) {
	id, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow id %q: %w", workflowID, err)
	}

	wm := &models.WorkflowModel{}
	err = r.db.NewSelect().
		Model(wm).
		Relation("Nodes").
		Relation("Edges").
		Where("w.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s not found: %w", workflowID, err)
		}
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	return models.WorkflowFromStorage(wm), nil
}

// HasPermission reports whether userID holds permission on workflowID
// (§6 "HasPermission").
func (r *WorkflowRepository) HasPermission(ctx context.Context, workflowID, userID, permission string) (bool, error) {
	wID, err := uuid.Parse(workflowID)
	if err != nil {
		return false, fmt.Errorf("invalid workflow id %q: %w", workflowID, err)
	}
	uID, err := uuid.Parse(userID)
	if err != nil {
		return false, fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	exists, err := r.db.NewSelect().
		Model((*models.WorkflowPermissionModel)(nil)).
		Where("workflow_id = ? AND user_id = ? AND permission = ?", wID, uID, permission).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return exists, nil
}

// GrantPermission records that userID holds permission on workflowID.
// Supplements §6's read-only HasPermission contract with the write side an
// operator needs to actually populate the grants table.
func (r *WorkflowRepository) GrantPermission(ctx context.Context, workflowID, userID, permission string) error {
	wID, err := uuid.Parse(workflowID)
	if err != nil {
		return fmt.Errorf("invalid workflow id %q: %w", workflowID, err)
	}
	uID, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	_, err = r.db.NewInsert().
		Model(&models.WorkflowPermissionModel{WorkflowID: wID, UserID: uID, Permission: permission}).
		On("CONFLICT (workflow_id, user_id, permission) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// Create persists a new workflow definition along with its nodes and edges.
func (r *WorkflowRepository) Create(ctx context.Context, w *model.Workflow) error {
	wm, err := models.WorkflowToStorage(w)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(wm).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		if len(wm.Nodes) > 0 {
			if _, err := tx.NewInsert().Model(&wm.Nodes).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert nodes: %w", err)
			}
		}
		if len(wm.Edges) > 0 {
			if _, err := tx.NewInsert().Model(&wm.Edges).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert edges: %w", err)
			}
		}
		w.ID = wm.ID.String()
		return nil
	})
}

// Update replaces a workflow definition's metadata, nodes and edges with a
// smart merge: nodes/edges matched by their logical id are updated in
// place, new ones are inserted, missing ones are deleted.
func (r *WorkflowRepository) Update(ctx context.Context, w *model.Workflow) error {
	wm, err := models.WorkflowToStorage(w)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(wm).
			Column("name", "version", "status", "updated_at").
			Where("id = ?", wm.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		if err := syncNodes(ctx, tx, wm.ID, wm.Nodes); err != nil {
			return fmt.Errorf("failed to sync nodes: %w", err)
		}
		if err := syncEdges(ctx, tx, wm.ID, wm.Edges); err != nil {
			return fmt.Errorf("failed to sync edges: %w", err)
		}
		return nil
	})
}

func syncNodes(ctx context.Context, tx bun.Tx, workflowID uuid.UUID, incoming []*models.NodeModel) error {
	var existing []*models.NodeModel
	if err := tx.NewSelect().Model(&existing).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	byLogicalID := make(map[string]*models.NodeModel, len(existing))
	for _, n := range existing {
		byLogicalID[n.NodeID] = n
	}
	seen := make(map[string]bool, len(incoming))
	for _, n := range incoming {
		seen[n.NodeID] = true
		if prior, ok := byLogicalID[n.NodeID]; ok {
			n.ID = prior.ID
			n.CreatedAt = prior.CreatedAt
			n.WorkflowID = workflowID
			if _, err := tx.NewUpdate().Model(n).Column(
				"name", "program_id", "version_id", "disabled", "ui_type",
				"input", "output", "execution_settings", "metadata", "updated_at",
			).Where("id = ?", n.ID).Exec(ctx); err != nil {
				return fmt.Errorf("update node %s: %w", n.NodeID, err)
			}
			continue
		}
		n.ID = uuid.New()
		n.WorkflowID = workflowID
		if _, err := tx.NewInsert().Model(n).Exec(ctx); err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}
	for logicalID, prior := range byLogicalID {
		if !seen[logicalID] {
			if _, err := tx.NewDelete().Model((*models.NodeModel)(nil)).Where("id = ?", prior.ID).Exec(ctx); err != nil {
				return fmt.Errorf("delete node %s: %w", logicalID, err)
			}
		}
	}
	return nil
}

func syncEdges(ctx context.Context, tx bun.Tx, workflowID uuid.UUID, incoming []*models.EdgeModel) error {
	var existing []*models.EdgeModel
	if err := tx.NewSelect().Model(&existing).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	byLogicalID := make(map[string]*models.EdgeModel, len(existing))
	for _, e := range existing {
		byLogicalID[e.EdgeID] = e
	}
	seen := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		seen[e.EdgeID] = true
		if prior, ok := byLogicalID[e.EdgeID]; ok {
			e.ID = prior.ID
			e.CreatedAt = prior.CreatedAt
			e.WorkflowID = workflowID
			if _, err := tx.NewUpdate().Model(e).Column(
				"from_node_id", "to_node_id", "disabled", "kind", "source_handle",
				"condition", "max_iterations", "updated_at",
			).Where("id = ?", e.ID).Exec(ctx); err != nil {
				return fmt.Errorf("update edge %s: %w", e.EdgeID, err)
			}
			continue
		}
		e.ID = uuid.New()
		e.WorkflowID = workflowID
		if _, err := tx.NewInsert().Model(e).Exec(ctx); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.EdgeID, err)
		}
	}
	for logicalID, prior := range byLogicalID {
		if !seen[logicalID] {
			if _, err := tx.NewDelete().Model((*models.EdgeModel)(nil)).Where("id = ?", prior.ID).Exec(ctx); err != nil {
				return fmt.Errorf("delete edge %s: %w", logicalID, err)
			}
		}
	}
	return nil
}
