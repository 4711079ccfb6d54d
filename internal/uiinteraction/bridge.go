// Package uiinteraction implements the UI Interaction Bridge (C5, §4.5):
// deciding whether a node suspends for human input, suspending it, and
// resuming it once an external completion arrives.
package uiinteraction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/notifier"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/scheduler"
)

// ComponentRegistry answers whether at least one active UI component is
// registered to handle a given UiType (§4.5 "(b) at least one active UI
// component is registered for it"). Until a real UI component directory is
// wired in, the default implementation treats every UiType as having an
// active component, narrowing interactivity down to test (a) alone.
type ComponentRegistry interface {
	IsRegistered(uiType string) bool
}

// AlwaysRegistered is the default ComponentRegistry.
type AlwaysRegistered struct{}

// IsRegistered always reports true.
func (AlwaysRegistered) IsRegistered(uiType string) bool { return true }

// ExecutionLoader resolves the live scheduling state needed to resume a
// node. The engine facade supplies the concrete implementation; per §9's
// "background continuation scope" note, a background continuation calls
// this again from a fresh context rather than reusing anything captured by
// the incoming completion request.
type ExecutionLoader interface {
	LoadForResume(ctx context.Context, executionID string) (*registry.Session, *model.WorkflowExecution, *model.Workflow, error)

	// Finalize inspects the session once a resume continuation has driven
	// it back to quiescence and, unless it is Paused, persists the
	// execution's terminal status and results and releases the session —
	// the same bookkeeping Execute/Resume/RetryNode/SkipNode each pair with
	// their own scheduler drive (§9).
	Finalize(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow)
}

// Deps bundles the Bridge's collaborators. All fields are required except
// Components (defaults to AlwaysRegistered), DefaultTimeout (defaults to
// model.DefaultInteractionTimeout) and Logger, which may be nil.
type Deps struct {
	Repo           repository.UIInteractionRepository
	ExecutionRepo  repository.ExecutionRepository
	Notifier       *notifier.Manager
	Scheduler      *scheduler.Scheduler
	Loader         ExecutionLoader
	Components     ComponentRegistry
	Logger         *logger.Logger
	DefaultTimeout time.Duration
}

// Bridge is the UI Interaction Bridge. It satisfies scheduler.UIBridge.
type Bridge struct {
	deps Deps
}

// New builds a Bridge, filling in defaults for optional Deps fields.
func New(deps Deps) *Bridge {
	if deps.Components == nil {
		deps.Components = AlwaysRegistered{}
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = model.DefaultInteractionTimeout
	}
	return &Bridge{deps: deps}
}

// IsInteractive implements §4.5's interactivity test: (a) UiType not in the
// non-interactive set, and (b) an active UI component is registered for it.
func (b *Bridge) IsInteractive(n *model.Node) bool {
	uiType := n.UIType
	if uiType == "" {
		uiType = "console"
	}
	if model.NonInteractiveUITypes[uiType] {
		return false
	}
	return b.deps.Components.IsRegistered(uiType)
}

// Suspend implements §4.5 "Suspend": create a Pending UIInteraction with a
// generated input schema and a timeout, persist it, and notify.
func (b *Bridge) Suspend(ctx context.Context, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node) (*model.UIInteraction, error) {
	interaction := &model.UIInteraction{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      n.ID,
		Type:        model.UIInteractionUserInput,
		Status:      model.UIInteractionPending,
		Title:       n.Name,
		InputSchema: buildInputSchema(n),
		Timeout:     b.deps.DefaultTimeout,
		CreatedAt:   time.Now(),
	}

	if err := b.deps.Repo.Create(ctx, interaction); err != nil {
		return nil, err
	}
	b.deps.Notifier.NotifyUIInteractionCreated(ctx, *interaction)
	return interaction, nil
}

// buildInputSchema generates a JSON schema for the interaction's input form
// (§4.5 "generated JSON input schema (constructed from the program's UiType
// with defaults if no schema is configured)"). A node's declared
// UserInputs, if any, become the schema's properties; otherwise a single
// free-form "value" field is offered.
func buildInputSchema(n *model.Node) map[string]any {
	if len(n.Input.UserInputs) == 0 {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": map[string]any{"type": "string"}},
		}
	}

	properties := make(map[string]any, len(n.Input.UserInputs))
	var required []string
	for _, ui := range n.Input.UserInputs {
		prop := map[string]any{"type": "string"}
		if ui.Default != nil {
			prop["default"] = ui.Default
		}
		properties[ui.Name] = prop
		if ui.Required {
			required = append(required, ui.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
