package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/runner"
)

// LoadForResume implements uiinteraction.ExecutionLoader, letting the UI
// Interaction Bridge's background resume continuation re-resolve a live
// session through the facade rather than the registry directly (§9).
func (f *Facade) LoadForResume(ctx context.Context, executionID string) (*registry.Session, *model.WorkflowExecution, *model.Workflow, error) {
	session, ok := f.deps.Registry.Get(executionID)
	if !ok {
		return nil, nil, nil, apperr.NotFound("execution not found: " + executionID)
	}
	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil || exec == nil {
		return nil, nil, nil, apperr.NotFound("execution not found: " + executionID)
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, nil, nil, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}
	return session, exec, w, nil
}

// CompleteUIInteraction implements §4.6 "CompleteUIInteraction", a thin
// pass-through to the UI Interaction Bridge's own Resume handling.
func (f *Facade) CompleteUIInteraction(ctx context.Context, interactionID string, outputData map[string]any) error {
	return f.deps.UIBridge.CompleteInteraction(ctx, interactionID, outputData)
}

// Finalize implements uiinteraction.ExecutionLoader, letting the bridge's
// resume and timeout continuations pair their scheduler drive with the same
// finalization Execute/Resume/RetryNode/SkipNode each perform after their
// own drive returns (§9).
func (f *Facade) Finalize(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	f.finalize(ctx, session, exec, w)
}

// ValidateWorkflow runs the §4.1 Validator against a workflow as a
// standalone read, the same check Execute performs at admission but
// without creating an execution. Lets a caller check a workflow's
// structure, complexity metrics and warnings before committing to a run.
func (f *Facade) ValidateWorkflow(ctx context.Context, workflowID, userID string, execCtx model.ExecutionContext) (*model.ValidationResult, error) {
	w, err := f.deps.WorkflowRepo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + workflowID)
	}

	allowed, err := f.deps.WorkflowRepo.HasPermission(ctx, workflowID, userID, ExecutePermission)
	if err != nil {
		return nil, apperr.Internal("failed to check permission", err)
	}
	if !allowed {
		return nil, apperr.PermissionDenied("user " + userID + " may not validate workflow " + workflowID)
	}

	if execCtx.MaxConcurrentNodes <= 0 {
		execCtx.MaxConcurrentNodes = f.deps.DefaultMaxConcurrentNodes
	}
	if execCtx.TimeoutMinutes <= 0 {
		execCtx.TimeoutMinutes = f.deps.DefaultTimeoutMinutes
	}

	return f.deps.Validator.ValidateWorkflow(w, &execCtx), nil
}

// GetExecutionStatus implements §4.6 "GetExecutionStatus".
func (f *Facade) GetExecutionStatus(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	exec, err := f.deps.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return nil, apperr.Internal("failed to load execution", err)
	}
	if exec == nil {
		return nil, apperr.NotFound("execution not found: " + executionID)
	}
	return exec, nil
}

// IsExecutionComplete implements §4.6 "IsExecutionComplete".
func (f *Facade) IsExecutionComplete(ctx context.Context, executionID string) (bool, error) {
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return false, err
	}
	return exec.Status.IsTerminal(), nil
}

// GetActiveExecutions implements §4.6 "GetActiveExecutions", backed by the
// Session Registry rather than the database of record since "active" means
// "currently live in-process" (§4.2 "IsLive").
func (f *Facade) GetActiveExecutions() []string {
	sessions := f.deps.Registry.All()
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.IsLive() {
			out = append(out, s.ExecutionID)
		}
	}
	return out
}

// GetNodeOutput implements §4.6 "GetNodeOutput".
func (f *Facade) GetNodeOutput(ctx context.Context, executionID, nodeID string) (*model.WorkflowDataContract, error) {
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if session, ok := f.deps.Registry.Get(executionID); ok {
		if out, ok := session.NodeOutput(nodeID); ok {
			return &out, nil
		}
	}
	if exec.Results != nil {
		if out, ok := exec.Results.IntermediateResults[nodeID]; ok {
			return &out, nil
		}
	}
	return nil, apperr.NotFound("no recorded output for node " + nodeID)
}

// GetAllNodeOutputs implements §4.6 "GetAllNodeOutputs".
func (f *Facade) GetAllNodeOutputs(ctx context.Context, executionID string) (map[string]model.WorkflowDataContract, error) {
	if session, ok := f.deps.Registry.Get(executionID); ok {
		return session.AllNodeOutputs(), nil
	}
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Results == nil {
		return map[string]model.WorkflowDataContract{}, nil
	}
	return exec.Results.IntermediateResults, nil
}

// GetExecutionStatistics implements §4.6 "GetExecutionStatistics", exposing
// the workflow's complexity metrics alongside the execution's own progress
// (a supplemented read path over the otherwise write-only Validator).
func (f *Facade) GetExecutionStatistics(ctx context.Context, executionID string) (*ExecutionStatistics, error) {
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}
	metrics := f.deps.Validator.ComplexityMetrics(w)

	var elapsed time.Duration
	if exec.CompletedAt != nil {
		elapsed = exec.CompletedAt.Sub(exec.StartedAt)
	} else {
		elapsed = time.Since(exec.StartedAt)
	}

	return &ExecutionStatistics{
		Progress: exec.Progress,
		Metrics:  metrics,
		Elapsed:  elapsed,
	}, nil
}

// ExecutionStatistics is the response shape of GetExecutionStatistics.
type ExecutionStatistics struct {
	Progress model.Progress
	Metrics  model.ComplexityMetrics
	Elapsed  time.Duration
}

// GetExecutionLogs implements §4.6 "GetExecutionLogs(skip, take)".
func (f *Facade) GetExecutionLogs(ctx context.Context, executionID string, skip, take int) ([]model.LogEntry, error) {
	entries, err := f.deps.EventRepo.List(ctx, executionID, skip, take)
	if err != nil {
		return nil, apperr.Internal("failed to load execution logs", err)
	}
	return entries, nil
}

// CleanupExecution implements §4.6 "CleanupExecution": removes a terminal
// execution's in-memory session, a no-op if none remains.
func (f *Facade) CleanupExecution(executionID string) {
	f.deps.Registry.Remove(executionID)
	f.deps.Scheduler.ReleaseExecution(executionID)
}

// MarkOrphanedExecutionsFailed implements the supplemented startup
// reconciliation sweep: executions recorded Running in the database
// of record but with no live in-process session (e.g. after a process
// crash/restart) are marked Failed rather than left stuck forever.
func (f *Facade) MarkOrphanedExecutionsFailed(ctx context.Context) (int, error) {
	running, err := f.deps.ExecutionRepo.GetRunningExecutions(ctx)
	if err != nil {
		return 0, apperr.Internal("failed to load running executions", err)
	}

	var marked int
	for _, exec := range running {
		if _, ok := f.deps.Registry.Get(exec.ID); ok {
			continue
		}
		if err := f.deps.ExecutionRepo.SetError(ctx, exec.ID, &apperr.WorkflowErrorDescriptor{
			Type:    apperr.WorkflowSystemError,
			Message: "execution orphaned by process restart",
		}); err != nil && f.deps.Logger != nil {
			f.deps.Logger.ErrorContext(ctx, "failed to record orphaned execution error", "executionId", exec.ID, "error", err)
		}
		if err := f.deps.ExecutionRepo.UpdateStatus(ctx, exec.ID, model.ExecutionFailed); err != nil && f.deps.Logger != nil {
			f.deps.Logger.ErrorContext(ctx, "failed to mark orphaned execution failed", "executionId", exec.ID, "error", err)
			continue
		}
		f.deps.Notifier.NotifyExecutionFailed(ctx, exec.ID, model.ExecutionFailed, "orphaned by process restart")
		marked++
	}
	return marked, nil
}

// DownloadExecutionFile implements §4.6 "DownloadExecutionFile": fetches a
// single output file belonging to nodeID, verifying the file was actually
// reported in that node's output before reaching through to file storage.
func (f *Facade) DownloadExecutionFile(ctx context.Context, executionID, nodeID, fileName string) ([]byte, error) {
	ref, err := f.resolveFileRef(ctx, executionID, nodeID, fileName)
	if err != nil {
		return nil, err
	}
	data, err := f.deps.FileStorage.GetFileContent(ctx, ref.ProgramID, ref.VersionRef, ref.Path)
	if err != nil {
		return nil, apperr.Internal("failed to fetch output file", err)
	}
	return data, nil
}

// DownloadAllExecutionFiles implements §4.6 "DownloadAllExecutionFiles": it
// packages every output file across every node into a single zip archive
// built locally with the standard library, since the file-storage
// collaborator's own BulkDownloadFiles is reserved for an explicit
// caller-supplied subset (see BulkDownloadExecutionFiles).
func (f *Facade) DownloadAllExecutionFiles(ctx context.Context, executionID string) ([]byte, error) {
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for nodeID, ne := range exec.NodeExecutions {
		for _, name := range fileNamesOf(ne) {
			ref, err := f.resolveFileRef(ctx, executionID, nodeID, name)
			if err != nil {
				continue
			}
			data, err := f.deps.FileStorage.GetFileContent(ctx, ref.ProgramID, ref.VersionRef, ref.Path)
			if err != nil {
				if f.deps.Logger != nil {
					f.deps.Logger.WarnContext(ctx, "skipping unreadable output file", "executionId", executionID, "nodeId", nodeID, "fileName", name, "error", err)
				}
				continue
			}
			w, err := zw.Create(nodeID + "/" + name)
			if err != nil {
				continue
			}
			if _, err := w.Write(data); err != nil {
				continue
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.Internal("failed to finalize zip archive", err)
	}
	return buf.Bytes(), nil
}

// BulkDownloadExecutionFiles implements §4.6 "BulkDownloadExecutionFiles":
// an explicit caller-supplied subset of (nodeId, fileName) pairs, delegated
// directly to the file-storage collaborator's own bulk packaging.
func (f *Facade) BulkDownloadExecutionFiles(ctx context.Context, executionID string, selections []NodeFileSelection) ([]byte, error) {
	refs := make([]runner.FileRef, 0, len(selections))
	for _, sel := range selections {
		ref, err := f.resolveFileRef(ctx, executionID, sel.NodeID, sel.FileName)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	data, err := f.deps.FileStorage.BulkDownloadFiles(ctx, refs)
	if err != nil {
		return nil, apperr.Internal("failed to bulk download output files", err)
	}
	return data, nil
}

// NodeFileSelection identifies one file within one node's output for
// BulkDownloadExecutionFiles.
type NodeFileSelection struct {
	NodeID   string
	FileName string
}

func (f *Facade) resolveFileRef(ctx context.Context, executionID, nodeID, fileName string) (runner.FileRef, error) {
	exec, err := f.GetExecutionStatus(ctx, executionID)
	if err != nil {
		return runner.FileRef{}, err
	}
	ne := exec.NodeExecutions[nodeID]
	if ne == nil {
		return runner.FileRef{}, apperr.NotFound("node not found: " + nodeID)
	}
	path, found := pathForFile(ne, fileName)
	if !found {
		return runner.FileRef{}, apperr.NotFound(fmt.Sprintf("file %s not reported by node %s", fileName, nodeID))
	}
	w, err := f.deps.WorkflowRepo.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return runner.FileRef{}, apperr.NotFound("workflow not found: " + exec.WorkflowID)
	}
	n, ok := w.GetNode(nodeID)
	if !ok {
		return runner.FileRef{}, apperr.NotFound("node not found: " + nodeID)
	}
	return runner.FileRef{ProgramID: n.ProgramID, VersionRef: n.VersionID, Path: path, FileName: fileName}, nil
}

func fileNamesOf(ne *model.NodeExecution) []string {
	raw, ok := ne.Output["outputFiles"].([]map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, f := range raw {
		if name, ok := f["fileName"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// pathForFile returns the storage path recorded for fileName in ne's output
// file listing, if any.
func pathForFile(ne *model.NodeExecution, fileName string) (string, bool) {
	raw, ok := ne.Output["outputFiles"].([]map[string]any)
	if !ok {
		return "", false
	}
	for _, f := range raw {
		if name, ok := f["fileName"].(string); ok && name == fileName {
			path, _ := f["path"].(string)
			return path, true
		}
	}
	return "", false
}
