package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/condition"
	"github.com/smilemakc/workflow-engine/internal/config"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/notifier"
	"github.com/smilemakc/workflow-engine/internal/propagator"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/runner"
	"github.com/smilemakc/workflow-engine/internal/scheduler"
	"github.com/smilemakc/workflow-engine/internal/uiinteraction"
	"github.com/smilemakc/workflow-engine/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkflowRepo struct {
	workflows map[string]*model.Workflow
	denyUser  string
}

func (f *fakeWorkflowRepo) GetByID(ctx context.Context, workflowID string) (*model.Workflow, error) {
	w, ok := f.workflows[workflowID]
	if !ok {
		return nil, apperr.ErrWorkflowNotFound
	}
	return w, nil
}

func (f *fakeWorkflowRepo) HasPermission(ctx context.Context, workflowID, userID, permission string) (bool, error) {
	return userID != f.denyUser, nil
}

type fakeExecutionRepo struct {
	mu    sync.Mutex
	execs map[string]*model.WorkflowExecution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{execs: make(map[string]*model.WorkflowExecution)}
}

func (f *fakeExecutionRepo) Create(ctx context.Context, exec *model.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[exec.ID] = exec
	return nil
}

func (f *fakeExecutionRepo) GetByID(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[executionID], nil
}

func (f *fakeExecutionRepo) UpdateStatus(ctx context.Context, executionID string, status model.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[executionID]; ok {
		e.Status = status
	}
	return nil
}

func (f *fakeExecutionRepo) UpdateProgress(ctx context.Context, executionID string, progress model.Progress) error {
	return nil
}

func (f *fakeExecutionRepo) UpdateNodeExecution(ctx context.Context, executionID, nodeID string, ne *model.NodeExecution) error {
	return nil
}

func (f *fakeExecutionRepo) SetError(ctx context.Context, executionID string, descriptor *apperr.WorkflowErrorDescriptor) error {
	return nil
}

func (f *fakeExecutionRepo) SetResults(ctx context.Context, executionID string, results *model.Results) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[executionID]; ok {
		e.Results = results
	}
	return nil
}

func (f *fakeExecutionRepo) GetRunningExecutions(ctx context.Context) ([]*model.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WorkflowExecution
	for _, e := range f.execs {
		if e.Status == model.ExecutionRunning || e.Status == model.ExecutionPaused {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExecutionRepo) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error) {
	return nil, nil
}

type fakeEventRepo struct{}

func (fakeEventRepo) Append(ctx context.Context, executionID string, entry model.LogEntry) error {
	return nil
}
func (fakeEventRepo) List(ctx context.Context, executionID string, skip, take int) ([]model.LogEntry, error) {
	return nil, nil
}

type fakeFileStorage struct{}

func (fakeFileStorage) GetFileContent(ctx context.Context, programID, versionRef, path string) ([]byte, error) {
	return []byte("content:" + path), nil
}
func (fakeFileStorage) BulkDownloadFiles(ctx context.Context, refs []runner.FileRef) ([]byte, error) {
	return []byte("zip"), nil
}

type fakeProgramRunner struct {
	results map[string]runner.ProjectExecutionResult
	delay   time.Duration
}

func (f fakeProgramRunner) ExecuteProject(ctx context.Context, req runner.ProjectExecutionRequest) (runner.ProjectExecutionResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if res, ok := f.results[req.ProgramID]; ok {
		return res, nil
	}
	return runner.ProjectExecutionResult{Success: true, DurationMS: 1}, nil
}

type fakeProgramNames struct{}

func (fakeProgramNames) DisplayName(programID string) string { return programID }

func newTestFacade(t *testing.T, w *model.Workflow, runnerResults map[string]runner.ProjectExecutionResult) (*Facade, *fakeExecutionRepo, *registry.Registry) {
	return newTestFacadeWithDelay(t, w, runnerResults, 0)
}

func newTestFacadeWithDelay(t *testing.T, w *model.Workflow, runnerResults map[string]runner.ProjectExecutionResult, delay time.Duration) (*Facade, *fakeExecutionRepo, *registry.Registry) {
	t.Helper()
	log := logger.New(config.LoggingConfig{Level: "error"})
	execRepo := newFakeExecutionRepo()
	reg := registry.New()
	sched := scheduler.New(scheduler.Deps{
		Propagator:    propagator.New(log),
		ProgramNames:  fakeProgramNames{},
		Runner:        fakeProgramRunner{results: runnerResults, delay: delay},
		UIBridge:      noopBridge{},
		Condition:     condition.NewEvaluator(10),
		ExecutionRepo: execRepo,
		EventRepo:     fakeEventRepo{},
		Logger:        log,
	}, 10)

	nm := notifier.New(log)
	wfRepo := &fakeWorkflowRepo{workflows: map[string]*model.Workflow{w.ID: w}}

	f := New(Deps{
		WorkflowRepo:  wfRepo,
		ExecutionRepo: execRepo,
		EventRepo:     fakeEventRepo{},
		FileStorage:   fakeFileStorage{},
		Validator:     validator.New(nil),
		Registry:      reg,
		Scheduler:     sched,
		Notifier:      nm,
		Logger:        log,
	})
	return f, execRepo, reg
}

type noopBridge struct{}

func (noopBridge) IsInteractive(n *model.Node) bool { return false }
func (noopBridge) Suspend(ctx context.Context, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node) (*model.UIInteraction, error) {
	return &model.UIInteraction{ID: "ui-" + n.ID}, nil
}

func simpleWorkflow() *model.Workflow {
	return &model.Workflow{
		ID:      "wf1",
		Version: 1,
		Status:  model.WorkflowStatusActive,
		Nodes:   []model.Node{{ID: "A", Name: "A", ProgramID: "progA"}, {ID: "B", Name: "B", ProgramID: "progB"}},
		Edges:   []model.Edge{{ID: "e1", Source: "A", Target: "B"}},
	}
}

func waitForTerminal(t *testing.T, repo *fakeExecutionRepo, executionID string) *model.WorkflowExecution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exec, _ := repo.GetByID(context.Background(), executionID)
		if exec != nil && exec.Status.IsTerminal() {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution never reached a terminal status")
	return nil
}

func TestExecute_RunsToCompletion(t *testing.T) {
	w := simpleWorkflow()
	f, execRepo, reg := newTestFacade(t, w, nil)

	exec, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf1", UserID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, exec)

	final := waitForTerminal(t, execRepo, exec.ID)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
	assert.Equal(t, model.NodeCompleted, final.NodeExecutions["A"].Status)
	assert.Equal(t, model.NodeCompleted, final.NodeExecutions["B"].Status)
	_, stillLive := reg.Get(exec.ID)
	assert.False(t, stillLive)
}

func TestExecute_RejectsWhenPermissionDenied(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)
	f.deps.WorkflowRepo.(*fakeWorkflowRepo).denyUser = "blocked"

	_, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf1", UserID: "blocked"}, nil)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPermissionDenied, appErr.Kind)
}

func TestExecute_RejectsConcurrentRunForSameWorkflow(t *testing.T) {
	w := &model.Workflow{
		ID:     "wf-slow",
		Status: model.WorkflowStatusActive,
		Nodes:  []model.Node{{ID: "A", Name: "A", ProgramID: "progA"}},
	}
	f, _, _ := newTestFacadeWithDelay(t, w, nil, 80*time.Millisecond)

	_, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf-slow", UserID: "u1"}, nil)
	require.NoError(t, err)

	// The first execution's single node is still sleeping through its 80ms
	// call, so its session is guaranteed to still be live in the registry.
	_, err = f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf-slow", UserID: "u1"}, nil)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidState, appErr.Kind)
}

func TestPauseResume_ReDrivesRemainingNodes(t *testing.T) {
	w := &model.Workflow{
		ID:     "wf-pause",
		Status: model.WorkflowStatusActive,
		Nodes:  []model.Node{{ID: "A", Name: "A", ProgramID: "progA"}, {ID: "B", Name: "B", ProgramID: "progB"}},
		Edges:  []model.Edge{{ID: "e1", Source: "A", Target: "B"}},
	}
	f, execRepo, reg := newTestFacadeWithDelay(t, w, nil, 80*time.Millisecond)

	exec, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf-pause", UserID: "u1"}, nil)
	require.NoError(t, err)

	// Node A is still mid-flight (it sleeps 80ms per invocation); Pause
	// races it deliberately to exercise the mid-execution path rather than
	// pausing an already-quiescent workflow.
	err = f.Pause(context.Background(), exec.ID)
	require.NoError(t, err)

	session, ok := reg.Get(exec.ID)
	require.True(t, ok)
	assert.Equal(t, model.ExecutionPaused, session.Status())

	// The fake runner ignores context cancellation (as a real sandboxed
	// runner would not), so node A's in-flight call keeps running in the
	// background after Pause and settles into Completed shortly after.
	// Resume assumes a paused execution is already quiescent, so give that
	// straggler time to land before re-dispatching.
	time.Sleep(150 * time.Millisecond)

	resumed, err := f.Resume(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed)

	final := waitForTerminal(t, execRepo, exec.ID)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
}

func TestCancel_MarksExecutionCancelled(t *testing.T) {
	w := &model.Workflow{
		ID:     "wf-cancel",
		Status: model.WorkflowStatusActive,
		Nodes:  []model.Node{{ID: "A", Name: "A", ProgramID: "progA"}},
	}
	f, execRepo, _ := newTestFacadeWithDelay(t, w, nil, 80*time.Millisecond)

	exec, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf-cancel", UserID: "u1"}, nil)
	require.NoError(t, err)

	// Node A is still sleeping through its 80ms call; Cancel races it
	// deliberately so the session is still registered when Cancel runs.
	err = f.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)

	final := waitForTerminal(t, execRepo, exec.ID)
	assert.Equal(t, model.ExecutionCancelled, final.Status)
}

func TestRetryNode_NotFoundAfterSessionReaped(t *testing.T) {
	w := simpleWorkflow()
	f, execRepo, reg := newTestFacade(t, w, nil)

	exec, err := f.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf1", UserID: "u1"}, nil)
	require.NoError(t, err)
	waitForTerminal(t, execRepo, exec.ID)
	reg.Remove(exec.ID) // simulate the session already reaped by finalize

	_, err = f.RetryNode(context.Background(), exec.ID, "A")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestGetExecutionStatus_NotFound(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)

	_, err := f.GetExecutionStatus(context.Background(), "nope")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestValidateWorkflow_ReturnsResultWithoutCreatingAnExecution(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)

	result, err := f.ValidateWorkflow(context.Background(), "wf1", "u1", model.ExecutionContext{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsValid())
	assert.Empty(t, f.GetActiveExecutions())
}

func TestValidateWorkflow_RejectsWhenPermissionDenied(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)
	f.deps.WorkflowRepo.(*fakeWorkflowRepo).denyUser = "blocked"

	_, err := f.ValidateWorkflow(context.Background(), "wf1", "blocked", model.ExecutionContext{})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPermissionDenied, appErr.Kind)
}

func TestValidateWorkflow_NotFoundForUnknownWorkflow(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)

	_, err := f.ValidateWorkflow(context.Background(), "nope", "u1", model.ExecutionContext{})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestMarkOrphanedExecutionsFailed_MarksSessionlessRunning(t *testing.T) {
	w := simpleWorkflow()
	f, execRepo, _ := newTestFacade(t, w, nil)

	orphan := &model.WorkflowExecution{ID: "orphan1", WorkflowID: "wf1", Status: model.ExecutionRunning, NodeExecutions: map[string]*model.NodeExecution{}}
	require.NoError(t, execRepo.Create(context.Background(), orphan))

	marked, err := f.MarkOrphanedExecutionsFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	final, _ := execRepo.GetByID(context.Background(), "orphan1")
	assert.Equal(t, model.ExecutionFailed, final.Status)
}

func TestLoadForResume_ReturnsNotFoundForUnknownExecution(t *testing.T) {
	w := simpleWorkflow()
	f, _, _ := newTestFacade(t, w, nil)

	_, _, _, err := f.LoadForResume(context.Background(), "missing")
	require.Error(t, err)
}

var _ uiinteraction.ExecutionLoader = (*Facade)(nil)
