// Package engine implements the Engine Facade (C6, §4.6): the single
// entry point external callers use to drive a workflow execution. It
// wires together the Validator, Session Registry, Scheduler, UI
// Interaction Bridge and the repository collaborators (§6), and maps the
// engine's internal error taxonomy onto the facade's documented
// NotFound/InvalidState/PermissionDenied/ValidationFailed/Internal
// contract (§6 "Error mapping").
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/notifier"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/runner"
	"github.com/smilemakc/workflow-engine/internal/scheduler"
	"github.com/smilemakc/workflow-engine/internal/uiinteraction"
	"github.com/smilemakc/workflow-engine/internal/validator"
)

// ExecutePermission is the permission name admission checks against
// (§4.6 "validates permission (at least Execute)").
const ExecutePermission = "Execute"

// Deps bundles the facade's collaborators. All fields are required except
// FileStorage and UIBridge (UIBridge is nil-safe only insofar as no node
// declares an interactive UiType; a real workflow needs one). The
// idempotency cache is not held here; Execute takes it per call.
type Deps struct {
	WorkflowRepo  repository.WorkflowRepository
	ExecutionRepo repository.ExecutionRepository
	EventRepo     repository.EventRepository
	FileStorage   runner.FileStorage
	Validator     *validator.Validator
	Registry      *registry.Registry
	Scheduler     *scheduler.Scheduler
	UIBridge      *uiinteraction.Bridge
	Notifier      *notifier.Manager
	Logger        *logger.Logger

	DefaultMaxConcurrentNodes int
	DefaultTimeoutMinutes     int
}

// Facade is the Engine Facade. It implements uiinteraction.ExecutionLoader
// so the UI Interaction Bridge's background resume continuation can
// re-resolve live scheduling state through it (§9 "background continuation
// scope").
type Facade struct {
	deps Deps
}

// New builds a Facade.
func New(deps Deps) *Facade {
	if deps.DefaultMaxConcurrentNodes <= 0 {
		deps.DefaultMaxConcurrentNodes = 4
	}
	if deps.DefaultTimeoutMinutes <= 0 {
		deps.DefaultTimeoutMinutes = 60
	}
	return &Facade{deps: deps}
}

// ExecuteRequest is the input to Execute.
type ExecuteRequest struct {
	WorkflowID string
	UserID     string
	Context    model.ExecutionContext
	// IdempotencyKey, if set, is reserved against the execution id so a
	// retried call with the same key observes the same execution instead
	// of racing a second session past the Session Registry.
	IdempotencyKey string
}

// IdempotencyCache is the subset of internal/idempotency.Cache Execute
// consults. Defined here so the facade doesn't force a Redis dependency on
// callers that don't configure one.
type IdempotencyCache interface {
	Reserve(ctx context.Context, idempotencyKey, executionID string) (boundExecutionID string, reserved bool, err error)
	Release(ctx context.Context, idempotencyKey string) error
}

// Execute implements §4.6 "Execute": validates, persists the execution
// record (status Running, one Pending NodeExecution per node), admits a
// session, and queues the scheduler run as a background continuation,
// returning the initial response immediately.
func (f *Facade) Execute(ctx context.Context, req ExecuteRequest, idempotency IdempotencyCache) (*model.WorkflowExecution, error) {
	w, err := f.deps.WorkflowRepo.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + req.WorkflowID)
	}

	allowed, err := f.deps.WorkflowRepo.HasPermission(ctx, req.WorkflowID, req.UserID, ExecutePermission)
	if err != nil {
		return nil, apperr.Internal("failed to check permission", err)
	}
	if !allowed {
		return nil, apperr.PermissionDenied("user " + req.UserID + " may not execute workflow " + req.WorkflowID)
	}

	execCtx := req.Context
	if execCtx.MaxConcurrentNodes <= 0 {
		execCtx.MaxConcurrentNodes = f.deps.DefaultMaxConcurrentNodes
	}
	if execCtx.TimeoutMinutes <= 0 {
		execCtx.TimeoutMinutes = f.deps.DefaultTimeoutMinutes
	}

	result := f.deps.Validator.ValidateWorkflow(w, &execCtx)
	if !result.IsValid() {
		return nil, apperr.ValidationFailed("workflow failed validation", result.Fields())
	}

	executionID := uuid.NewString()
	if idempotency != nil && req.IdempotencyKey != "" {
		bound, reserved, err := idempotency.Reserve(ctx, req.IdempotencyKey, executionID)
		if err != nil {
			return nil, apperr.Internal("failed to reserve idempotency key", err)
		}
		if !reserved {
			existing, err := f.deps.ExecutionRepo.GetByID(ctx, bound)
			if err != nil || existing == nil {
				return nil, apperr.Internal("idempotency key bound to unknown execution "+bound, err)
			}
			return existing, nil
		}
		executionID = bound
	}

	exec := &model.WorkflowExecution{
		ID:              executionID,
		WorkflowID:      w.ID,
		WorkflowVersion: w.Version,
		ExecutorID:      req.UserID,
		Status:          model.ExecutionRunning,
		Context:         execCtx,
		NodeExecutions:  pendingNodeExecutions(executionID, w),
		Progress:        progressOf(w, nil),
		StartedAt:       time.Now(),
	}

	if err := f.deps.ExecutionRepo.Create(ctx, exec); err != nil {
		if idempotency != nil && req.IdempotencyKey != "" {
			_ = idempotency.Release(ctx, req.IdempotencyKey)
		}
		return nil, apperr.Internal("failed to create execution record", err)
	}

	session := registry.NewSession(context.Background(), exec.ID, w.ID, execCtx.MaxConcurrentNodes)
	if err := f.deps.Registry.TryAdmit(session); err != nil {
		if idempotency != nil && req.IdempotencyKey != "" {
			_ = idempotency.Release(ctx, req.IdempotencyKey)
		}
		return nil, apperr.InvalidState(err.Error())
	}

	f.deps.Notifier.NotifyExecutionStarted(ctx, exec.ID)
	go f.runToQuiescence(session, exec, w)

	return exec, nil
}

// runToQuiescence is the background continuation queued by Execute (§9
// "background continuation scope"): it deliberately starts from context.Background(), deriving
// everything it needs from session/exec/w rather than the request that
// triggered it.
func (f *Facade) runToQuiescence(session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	ctx := context.Background()
	f.deps.Scheduler.Run(session.Ctx, session, exec, w)
	f.finalize(ctx, session, exec, w)
}

// finalize inspects the session after the scheduler has gone quiescent and
// either leaves a Paused session alone (Resume will re-drive it later) or
// computes and persists the execution's terminal Results (§3 "on
// completion — a Results record"). A workflow with an interactive node can
// reach quiescence from more than one independent continuation — the
// goroutine that originally launched it (parked on its own latch until the
// session is cancelled or completes) and a UI-resume or timeout
// continuation that finalizes directly — so the terminal bookkeeping itself
// is guarded by the session's FinalizeOnce rather than running unconditionally.
func (f *Facade) finalize(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	if session.Status() == model.ExecutionPaused {
		return // Resume will re-admit and re-drive this session later.
	}

	session.FinalizeOnce(func() {
		status := model.ExecutionCompleted
		var failedCount int
		if session.Status() == model.ExecutionCancelled {
			status = model.ExecutionCancelled
		} else {
			for _, ne := range exec.NodeExecutions {
				if ne.Status == model.NodeFailed {
					failedCount++
				}
			}
			if failedCount > 0 {
				status = model.ExecutionFailed
			}
		}

		exec.Status = status
		now := time.Now()
		exec.CompletedAt = &now
		exec.Progress = progressOf(w, exec.NodeExecutions)
		exec.Results = buildResults(session, w)

		// The session is released before the terminal record is persisted
		// so a caller observing the persisted status as terminal never
		// finds a stale session still registered (§3 "removed when ...
		// finalization completed").
		f.deps.Registry.Remove(exec.ID)
		f.deps.Scheduler.ReleaseExecution(exec.ID)

		if err := f.deps.ExecutionRepo.SetResults(ctx, exec.ID, exec.Results); err != nil && f.deps.Logger != nil {
			f.deps.Logger.ErrorContext(ctx, "failed to persist execution results", "executionId", exec.ID, "error", err)
		}
		if err := f.deps.ExecutionRepo.UpdateStatus(ctx, exec.ID, status); err != nil && f.deps.Logger != nil {
			f.deps.Logger.ErrorContext(ctx, "failed to persist execution status", "executionId", exec.ID, "error", err)
		}

		if status == model.ExecutionCompleted {
			f.deps.Notifier.NotifyExecutionCompleted(ctx, exec.ID)
		} else if status == model.ExecutionFailed {
			f.deps.Notifier.NotifyExecutionFailed(ctx, exec.ID, status, fmt.Sprintf("Workflow failed due to %d failed nodes", failedCount))
		} else {
			f.deps.Notifier.NotifyExecutionFailed(ctx, exec.ID, status, "execution cancelled")
		}
	})
}

// Pause implements §4.6 "Pause": cancels the session's cooperative
// cancellation source so in-flight nodes observe it at their next
// suspension point, and marks the execution Paused.
func (f *Facade) Pause(ctx context.Context, executionID string) error {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return apperr.NotFound("execution not found: " + executionID)
	}
	if session.Status() != model.ExecutionRunning {
		return apperr.InvalidState("execution " + executionID + " is not running")
	}
	session.SetStatus(model.ExecutionPaused)
	session.Cancel()
	return f.deps.ExecutionRepo.UpdateStatus(ctx, executionID, model.ExecutionPaused)
}

// Resume implements §4.6 "Resume": fails if the execution is not Paused,
// else reactivates the session's cancellation source and re-dispatches
// every not-yet-Completed node as a fresh background continuation.
func (f *Facade) Resume(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	if session.Status() != model.ExecutionPaused {
		return nil, apperr.InvalidState("execution " + executionID + " is not paused")
	}

	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil || exec == nil {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}

	session.Reactivate(context.Background())
	exec.Status = model.ExecutionRunning
	if err := f.deps.ExecutionRepo.UpdateStatus(ctx, executionID, model.ExecutionRunning); err != nil {
		return nil, apperr.Internal("failed to persist resume", err)
	}

	go func() {
		bg := context.Background()
		f.deps.Scheduler.Resume(session.Ctx, session, exec, w)
		f.finalize(bg, session, exec, w)
	}()

	return exec, nil
}

// Cancel implements §4.6 "Cancel": cancels the session and removes it.
func (f *Facade) Cancel(ctx context.Context, executionID string) error {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return apperr.NotFound("execution not found: " + executionID)
	}
	session.SetStatus(model.ExecutionCancelled)
	session.Cancel()
	f.deps.Registry.Remove(executionID)
	if err := f.deps.ExecutionRepo.UpdateStatus(ctx, executionID, model.ExecutionCancelled); err != nil {
		return apperr.Internal("failed to persist cancellation", err)
	}
	return nil
}

// RetryNode implements §4.6 "RetryNode": fails if the execution is
// terminal, the node is not Failed, or retryCount >= maxRetries; else
// increments the retry count, marks the node Retrying, and dispatches it
// with the current predecessor outputs.
func (f *Facade) RetryNode(ctx context.Context, executionID, nodeID string) (*model.NodeExecution, error) {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil || exec == nil {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	if exec.Status.IsTerminal() {
		return nil, apperr.InvalidState("execution " + executionID + " has already finished")
	}
	ne := exec.NodeExecutions[nodeID]
	if ne == nil {
		return nil, apperr.NotFound("node not found: " + nodeID)
	}
	if !ne.CanRetry() {
		return nil, apperr.InvalidState("node " + nodeID + " is not eligible for retry")
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}

	ne.RetryCount++
	ne.Status = model.NodeRetrying
	ne.Error = nil
	if err := f.deps.ExecutionRepo.UpdateNodeExecution(ctx, executionID, nodeID, ne); err != nil {
		return nil, apperr.Internal("failed to persist retry", err)
	}

	go func() {
		bg := context.Background()
		f.deps.Scheduler.DispatchNode(session.Ctx, session, exec, w, nodeID)
		f.finalize(bg, session, exec, w)
	}()

	return ne, nil
}

// SkipNode implements §4.6 "SkipNode": marks the node Skipped with reason,
// making its successors eligible.
func (f *Facade) SkipNode(ctx context.Context, executionID, nodeID, reason string) error {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return apperr.NotFound("execution not found: " + executionID)
	}
	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil || exec == nil {
		return apperr.NotFound("execution not found: " + executionID)
	}
	ne := exec.NodeExecutions[nodeID]
	if ne == nil {
		return apperr.NotFound("node not found: " + nodeID)
	}
	if ne.Status.IsTerminal() {
		return apperr.InvalidState("node " + nodeID + " has already finished")
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}

	ne.Status = model.NodeSkipped
	ne.SkipReason = reason
	now := time.Now()
	ne.CompletedAt = &now
	if err := f.deps.ExecutionRepo.UpdateNodeExecution(ctx, executionID, nodeID, ne); err != nil {
		return apperr.Internal("failed to persist skip", err)
	}
	session.MarkCompleted(nodeID)

	go func() {
		bg := context.Background()
		f.deps.Scheduler.ResumeSuccessors(session.Ctx, session, exec, w, nodeID)
		f.finalize(bg, session, exec, w)
	}()
	return nil
}

// ExecuteNode implements §4.6 "ExecuteNode (manual, forbidden while
// automatic Running)": a one-off, ad hoc invocation of a single node
// outside the dependency-driven scheduler loop, only permitted when no
// automatic execution is currently live for the workflow.
func (f *Facade) ExecuteNode(ctx context.Context, executionID, nodeID string) (*model.NodeExecution, error) {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	if session.Status() == model.ExecutionRunning {
		return nil, apperr.InvalidState("node " + nodeID + " cannot be manually executed while the workflow is running automatically")
	}
	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil || exec == nil {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	ne := exec.NodeExecutions[nodeID]
	if ne == nil {
		return nil, apperr.NotFound("node not found: " + nodeID)
	}
	if !model.CanTransitionToRunning(ne.Status) {
		return nil, apperr.InvalidState("node " + nodeID + " is not eligible to run")
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}

	f.deps.Scheduler.DispatchNode(ctx, session, exec, w, nodeID)
	return exec.NodeExecutions[nodeID], nil
}

func pendingNodeExecutions(executionID string, w *model.Workflow) map[string]*model.NodeExecution {
	out := make(map[string]*model.NodeExecution, len(w.Nodes))
	for _, n := range w.Nodes {
		out[n.ID] = &model.NodeExecution{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			NodeID:      n.ID,
			Status:      model.NodePending,
			MaxRetries:  n.Execution.MaxRetries,
		}
	}
	return out
}

func progressOf(w *model.Workflow, nodeExecutions map[string]*model.NodeExecution) model.Progress {
	total := len(w.EnabledNodes())
	p := model.Progress{Total: total, Phase: "pending"}
	if nodeExecutions == nil {
		return p
	}
	for _, n := range w.EnabledNodes() {
		ne := nodeExecutions[n.ID]
		if ne == nil {
			continue
		}
		switch ne.Status {
		case model.NodeCompleted, model.NodeSkipped:
			p.Completed++
		case model.NodeFailed:
			p.Failed++
		case model.NodeRunning, model.NodeWaitingForInput, model.NodeRetrying:
			p.Running++
		}
	}
	if total > 0 {
		p.PercentComplete = float64(p.Completed+p.Failed) / float64(total) * 100
	}
	if p.Completed+p.Failed == total && total > 0 {
		p.Phase = "finished"
	} else if p.Running > 0 {
		p.Phase = "running"
	}
	return p
}

func buildResults(session *registry.Session, w *model.Workflow) *model.Results {
	outputs := session.AllNodeOutputs()
	intermediate := make(map[string]model.WorkflowDataContract, len(outputs))
	for k, v := range outputs {
		intermediate[k] = v
	}

	final := make(map[string]model.WorkflowDataContract)
	for _, n := range leafNodes(w) {
		if out, ok := outputs[n.ID]; ok {
			final[n.ID] = out
		}
	}

	var files []model.OutputFileRef
	for nodeID, out := range outputs {
		rawFiles, ok := out.Payload["outputFiles"].([]map[string]any)
		if !ok {
			continue
		}
		for _, rf := range rawFiles {
			fileName, _ := rf["fileName"].(string)
			path, _ := rf["path"].(string)
			files = append(files, model.OutputFileRef{NodeID: nodeID, FileName: fileName, Path: path})
		}
	}

	return &model.Results{
		FinalOutputs:        final,
		IntermediateResults: intermediate,
		OutputFiles:         files,
		Summary:             fmt.Sprintf("%d node(s) produced output", len(intermediate)),
	}
}

func leafNodes(w *model.Workflow) []model.Node {
	hasOutgoing := make(map[string]bool)
	for _, e := range w.EnabledEdges() {
		if e.IsLoop() {
			continue
		}
		hasOutgoing[e.Source] = true
	}
	var out []model.Node
	for _, n := range w.EnabledNodes() {
		if !hasOutgoing[n.ID] {
			out = append(out, n)
		}
	}
	return out
}
