package uiinteraction

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/propagator"
)

// CompleteInteraction implements §4.5 "Resume": it validates and persists
// the completion synchronously, then schedules N's re-entry and its
// successor cascade as a background continuation (§9 "Background
// continuation scope") so the caller (an HTTP-style completion request) is
// not held open for the node's own execution.
func (b *Bridge) CompleteInteraction(ctx context.Context, interactionID string, outputData map[string]any) error {
	interaction, err := b.deps.Repo.GetByID(ctx, interactionID)
	if err != nil {
		return err
	}
	if interaction == nil {
		return apperr.NotFound("ui interaction not found: " + interactionID)
	}
	if !interaction.Status.IsOpen() {
		return apperr.InvalidState("ui interaction " + interactionID + " is not open")
	}
	if interaction.Expired(time.Now()) {
		b.timeoutInteraction(ctx, interaction)
		return apperr.InvalidState("ui interaction " + interactionID + " has timed out")
	}

	normalized, _ := normalizeDocument(outputData).(map[string]any)
	prior := interaction.Status
	completedAt := time.Now()
	interaction.OutputData = normalized
	interaction.CompletedAt = &completedAt
	interaction.Status = model.UIInteractionCompleted

	if err := b.deps.Repo.UpdateStatus(ctx, interaction.ID, model.UIInteractionCompleted, normalized); err != nil {
		return err
	}
	b.deps.Notifier.NotifyUIInteractionStatusChanged(ctx, *interaction, prior)

	go b.continueNode(interaction.ExecutionID, interaction.NodeID, normalized)
	return nil
}

// continueNode is the background continuation (§4.5 "Resume" step 7, §9).
// It deliberately starts from context.Background() and re-resolves the
// session/execution/workflow through the Loader rather than capturing
// anything from CompleteInteraction's request-scoped ctx.
func (b *Bridge) continueNode(executionID, nodeID string, outputData map[string]any) {
	ctx := context.Background()
	session, exec, w, err := b.deps.Loader.LoadForResume(ctx, executionID)
	if err != nil {
		if b.deps.Logger != nil {
			b.deps.Logger.ErrorContext(ctx, "ui resume: failed to load execution", "executionId", executionID, "error", err)
		}
		return
	}
	n, ok := w.GetNode(nodeID)
	if !ok {
		return
	}

	extraInput, extraEnv := resumeInputs(outputData)
	b.deps.Scheduler.ResumeNode(session.Ctx, session, exec, w, n, extraInput, extraEnv)
	b.deps.Loader.Finalize(ctx, session, exec, w)
}

// resumeInputs implements §4.5 "the UI output merged into N's input document
// under the first UI-provided key; also export the raw UI document as
// UI_OUTPUT_DATA in the environment". "First" is taken as the
// alphabetically-first key of outputData, since outputData arrives as an
// unordered map with no inherent ordering to pin a tie-break to.
func resumeInputs(outputData map[string]any) (map[string]any, map[string]string) {
	extraInput := make(map[string]any, 1)
	if len(outputData) > 0 {
		keys := make([]string, 0, len(outputData))
		for k := range outputData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		extraInput[keys[0]] = outputData
	}

	raw, err := json.Marshal(outputData)
	if err != nil {
		raw = []byte("{}")
	}
	return extraInput, map[string]string{propagator.UIOutputEnvKey: string(raw)}
}

// timeoutInteraction transitions an elapsed interaction to Timeout and
// fails its node, shared by CompleteInteraction's inline expiry check and
// the background sweep (§4.5 "Timeout processing").
func (b *Bridge) timeoutInteraction(ctx context.Context, interaction *model.UIInteraction) {
	prior := interaction.Status
	interaction.Status = model.UIInteractionTimeout
	if err := b.deps.Repo.UpdateStatus(ctx, interaction.ID, model.UIInteractionTimeout, interaction.OutputData); err != nil && b.deps.Logger != nil {
		b.deps.Logger.ErrorContext(ctx, "failed to persist interaction timeout", "interactionId", interaction.ID, "error", err)
	}
	b.deps.Notifier.NotifyUIInteractionStatusChanged(ctx, *interaction, prior)
	b.failNodeOnTimeout(ctx, interaction)
}

// failNodeOnTimeout implements the node side of timeout processing: the
// node is Failed with TimeoutError, and either the execution is cancelled
// (ContinueOnError=false) or its successors are cascaded into, mirroring
// tryStartNode's own failure handling (§4.4 step 7) since Skipped/Failed
// dependency resolution happens the same way regardless of why N stopped.
func (b *Bridge) failNodeOnTimeout(ctx context.Context, interaction *model.UIInteraction) {
	session, exec, w, err := b.deps.Loader.LoadForResume(ctx, interaction.ExecutionID)
	if err != nil {
		if b.deps.Logger != nil {
			b.deps.Logger.ErrorContext(ctx, "ui timeout: failed to load execution", "executionId", interaction.ExecutionID, "error", err)
		}
		return
	}
	ne := exec.NodeExecutions[interaction.NodeID]
	if ne == nil || ne.Status != model.NodeWaitingForInput {
		return // already resumed or otherwise moved on
	}

	ne.Error = apperr.NewNodeError(apperr.NodeTimeoutError, "ui interaction timed out", nil, false)
	ne.Status = model.NodeFailed
	completedAt := time.Now()
	ne.CompletedAt = &completedAt
	if err := b.deps.ExecutionRepo.UpdateNodeExecution(ctx, exec.ID, ne.NodeID, ne); err != nil && b.deps.Logger != nil {
		b.deps.Logger.ErrorContext(ctx, "failed to persist node timeout", "executionId", exec.ID, "nodeId", ne.NodeID, "error", err)
	}
	session.ClearWaiting(ne.NodeID)
	session.MarkFailed(ne.NodeID)

	if !exec.Context.ContinueOnError {
		session.Cancel()
	} else {
		b.deps.Scheduler.ResumeSuccessors(session.Ctx, session, exec, w, ne.NodeID)
	}
	b.deps.Loader.Finalize(ctx, session, exec, w)
}
