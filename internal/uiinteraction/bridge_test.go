package uiinteraction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/condition"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/notifier"
	"github.com/smilemakc/workflow-engine/internal/propagator"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/runner"
	"github.com/smilemakc/workflow-engine/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInteractionRepo struct {
	mu           sync.Mutex
	interactions map[string]*model.UIInteraction
}

func newFakeInteractionRepo() *fakeInteractionRepo {
	return &fakeInteractionRepo{interactions: make(map[string]*model.UIInteraction)}
}

func (r *fakeInteractionRepo) Create(ctx context.Context, interaction *model.UIInteraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions[interaction.ID] = interaction
	return nil
}

func (r *fakeInteractionRepo) GetByID(ctx context.Context, id string) (*model.UIInteraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interactions[id], nil
}

func (r *fakeInteractionRepo) UpdateStatus(ctx context.Context, id string, status model.UIInteractionStatus, outputData map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.interactions[id]; ok {
		i.Status = status
		i.OutputData = outputData
	}
	return nil
}

func (r *fakeInteractionRepo) GetByWorkflowExecution(ctx context.Context, executionID string) ([]*model.UIInteraction, error) {
	return nil, nil
}

func (r *fakeInteractionRepo) GetActiveInteractions(ctx context.Context) ([]*model.UIInteraction, error) {
	return nil, nil
}

func (r *fakeInteractionRepo) GetTimedOutInteractions(ctx context.Context, now int64) ([]*model.UIInteraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UIInteraction
	for _, i := range r.interactions {
		if i.Status.IsOpen() && i.Expired(time.Unix(now, 0)) {
			out = append(out, i)
		}
	}
	return out, nil
}

type fakeExecRepo struct{}

func (fakeExecRepo) Create(ctx context.Context, exec *model.WorkflowExecution) error { return nil }
func (fakeExecRepo) GetByID(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	return nil, nil
}
func (fakeExecRepo) UpdateStatus(ctx context.Context, executionID string, status model.ExecutionStatus) error {
	return nil
}
func (fakeExecRepo) UpdateProgress(ctx context.Context, executionID string, progress model.Progress) error {
	return nil
}
func (fakeExecRepo) UpdateNodeExecution(ctx context.Context, executionID, nodeID string, ne *model.NodeExecution) error {
	return nil
}
func (fakeExecRepo) SetError(ctx context.Context, executionID string, descriptor *apperr.WorkflowErrorDescriptor) error {
	return nil
}
func (fakeExecRepo) SetResults(ctx context.Context, executionID string, results *model.Results) error {
	return nil
}
func (fakeExecRepo) GetRunningExecutions(ctx context.Context) ([]*model.WorkflowExecution, error) {
	return nil, nil
}
func (fakeExecRepo) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error) {
	return nil, nil
}

type fakeEventRepo struct{}

func (fakeEventRepo) Append(ctx context.Context, executionID string, entry model.LogEntry) error {
	return nil
}
func (fakeEventRepo) List(ctx context.Context, executionID string, skip, take int) ([]model.LogEntry, error) {
	return nil, nil
}

type fakeNames struct{}

func (fakeNames) DisplayName(programID string) string { return programID }

type fakeRunner struct {
	mu   sync.Mutex
	reqs map[string]runner.ProjectExecutionRequest
}

func (f *fakeRunner) ExecuteProject(ctx context.Context, req runner.ProjectExecutionRequest) (runner.ProjectExecutionResult, error) {
	f.mu.Lock()
	if f.reqs == nil {
		f.reqs = make(map[string]runner.ProjectExecutionRequest)
	}
	f.reqs[req.ProgramID] = req
	f.mu.Unlock()
	return runner.ProjectExecutionResult{Success: true, ExitCode: 0, DurationMS: 1}, nil
}

type fixedLoader struct {
	session *registry.Session
	exec    *model.WorkflowExecution
	w       *model.Workflow

	mu        sync.Mutex
	finalized int
}

func (l *fixedLoader) LoadForResume(ctx context.Context, executionID string) (*registry.Session, *model.WorkflowExecution, *model.Workflow, error) {
	return l.session, l.exec, l.w, nil
}

func (l *fixedLoader) Finalize(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized++
}

func (l *fixedLoader) finalizeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized
}

func TestIsInteractive(t *testing.T) {
	b := New(Deps{})
	assert.True(t, b.IsInteractive(&model.Node{UIType: "form"}))
	assert.False(t, b.IsInteractive(&model.Node{UIType: "console"}))
	assert.False(t, b.IsInteractive(&model.Node{}))  // empty defaults to console
	assert.False(t, b.IsInteractive(&model.Node{UIType: "batch"}))
}

func TestIsInteractive_NoRegisteredComponent(t *testing.T) {
	b := New(Deps{Components: stubRegistry{registered: false}})
	assert.False(t, b.IsInteractive(&model.Node{UIType: "form"}))
}

type stubRegistry struct{ registered bool }

func (s stubRegistry) IsRegistered(uiType string) bool { return s.registered }

func TestSuspend_CreatesPendingInteractionAndNotifies(t *testing.T) {
	repo := newFakeInteractionRepo()
	recorder := &recordingSink{name: "rec"}
	mgr := notifier.New(nil)
	require.NoError(t, mgr.Register(recorder))
	b := New(Deps{Repo: repo, Notifier: mgr})

	n := &model.Node{ID: "n1", Name: "Review", UIType: "form"}
	exec := &model.WorkflowExecution{ID: "exec1"}
	w := &model.Workflow{Nodes: []model.Node{*n}}

	interaction, err := b.Suspend(context.Background(), exec, w, n)
	require.NoError(t, err)
	assert.Equal(t, model.UIInteractionPending, interaction.Status)
	assert.Equal(t, "n1", interaction.NodeID)
	assert.NotEmpty(t, interaction.InputSchema)

	waitForCond(t, func() bool { return recorder.count() == 1 })
	assert.Equal(t, notifier.EventUIInteractionCreated, recorder.lastType())
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []notifier.Event
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Notify(ctx context.Context, evt notifier.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}
func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
func (s *recordingSink) lastType() notifier.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1].Type
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCompleteInteraction_RejectsClosedInteraction(t *testing.T) {
	repo := newFakeInteractionRepo()
	interaction := &model.UIInteraction{ID: "i1", Status: model.UIInteractionCompleted}
	require.NoError(t, repo.Create(context.Background(), interaction))
	b := New(Deps{Repo: repo, Notifier: notifier.New(nil)})

	err := b.CompleteInteraction(context.Background(), "i1", map[string]any{"a": 1.0})
	assert.Error(t, err)
}

func TestCompleteInteraction_ResumesNodeAndCascades(t *testing.T) {
	repo := newFakeInteractionRepo()
	interaction := &model.UIInteraction{
		ID: "i1", ExecutionID: "exec1", NodeID: "n1",
		Status: model.UIInteractionPending, CreatedAt: time.Now(), Timeout: 30 * time.Minute,
	}
	require.NoError(t, repo.Create(context.Background(), interaction))

	r := &fakeRunner{}
	sched := scheduler.New(scheduler.Deps{
		Propagator:    propagator.New(nil),
		ProgramNames:  fakeNames{},
		Runner:        r,
		UIBridge:      stubUIBridge{},
		Condition:     condition.NewEvaluator(10),
		ExecutionRepo: fakeExecRepo{},
		EventRepo:     fakeEventRepo{},
	}, 10)

	w := &model.Workflow{
		Nodes: []model.Node{{ID: "n1", ProgramID: "progA", UIType: "form"}, {ID: "n2", ProgramID: "progB"}},
		Edges: []model.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}
	exec := &model.WorkflowExecution{
		ID: "exec1",
		NodeExecutions: map[string]*model.NodeExecution{
			"n1": {ID: "n1", ExecutionID: "exec1", NodeID: "n1", Status: model.NodeWaitingForInput},
			"n2": {ID: "n2", ExecutionID: "exec1", NodeID: "n2", Status: model.NodePending},
		},
		Context: model.ExecutionContext{MaxConcurrentNodes: 5},
	}
	session := registry.NewSession(context.Background(), "exec1", "wf1", 5)
	loader := &fixedLoader{session: session, exec: exec, w: w}

	b := New(Deps{
		Repo:          repo,
		ExecutionRepo: fakeExecRepo{},
		Notifier:      notifier.New(nil),
		Scheduler:     sched,
		Loader:        loader,
	})

	err := b.CompleteInteraction(context.Background(), "i1", map[string]any{"zeta": "z", "alpha": "a"})
	require.NoError(t, err)

	waitForCond(t, func() bool { return exec.NodeExecutions["n2"].Status == model.NodeCompleted })
	assert.Equal(t, model.NodeCompleted, exec.NodeExecutions["n1"].Status)
	waitForCond(t, func() bool { return loader.finalizeCount() == 1 })

	r.mu.Lock()
	defer r.mu.Unlock()
	// "alpha" sorts first, so the merged input is keyed on it.
	merged, ok := r.reqs["progA"].Parameters["alpha"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", merged["alpha"])
}

type stubUIBridge struct{}

func (stubUIBridge) IsInteractive(n *model.Node) bool { return false }
func (stubUIBridge) Suspend(ctx context.Context, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node) (*model.UIInteraction, error) {
	return &model.UIInteraction{ID: "ui-" + n.ID}, nil
}

func TestCompleteInteraction_ExpiredTimesOutAndFailsNode(t *testing.T) {
	repo := newFakeInteractionRepo()
	interaction := &model.UIInteraction{
		ID: "i1", ExecutionID: "exec1", NodeID: "n1",
		Status: model.UIInteractionPending, CreatedAt: time.Now().Add(-time.Hour), Timeout: time.Minute,
	}
	require.NoError(t, repo.Create(context.Background(), interaction))

	exec := &model.WorkflowExecution{
		ID: "exec1",
		NodeExecutions: map[string]*model.NodeExecution{
			"n1": {ID: "n1", ExecutionID: "exec1", NodeID: "n1", Status: model.NodeWaitingForInput},
		},
		Context: model.ExecutionContext{MaxConcurrentNodes: 5, ContinueOnError: true},
	}
	w := &model.Workflow{Nodes: []model.Node{{ID: "n1", ProgramID: "progA"}}}
	session := registry.NewSession(context.Background(), "exec1", "wf1", 5)
	loader := &fixedLoader{session: session, exec: exec, w: w}

	b := New(Deps{
		Repo:          repo,
		ExecutionRepo: fakeExecRepo{},
		Notifier:      notifier.New(nil),
		Loader:        loader,
	})

	err := b.CompleteInteraction(context.Background(), "i1", map[string]any{"a": 1.0})
	assert.Error(t, err)
	assert.Equal(t, model.NodeFailed, exec.NodeExecutions["n1"].Status)
	assert.Equal(t, apperr.NodeTimeoutError, exec.NodeExecutions["n1"].Error.Type)
	assert.Equal(t, 1, loader.finalizeCount())
}

func TestNormalizeDocument_NarrowestLosslessNumber(t *testing.T) {
	in := map[string]any{"count": 3.0, "ratio": 3.5, "nested": []any{1.0, "x", map[string]any{"n": 2.0}}}
	out := normalizeDocument(in).(map[string]any)
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, 3.5, out["ratio"])
	nested := out["nested"].([]any)
	assert.Equal(t, int64(1), nested[0])
	assert.Equal(t, "x", nested[1])
	assert.Equal(t, int64(2), nested[2].(map[string]any)["n"])
}
