// Package scheduler implements the Scheduler (C4, §4.4): the heart of the
// engine. Unlike the wave-based topological executor it replaces, it does
// not walk the workflow in topological order — it drives execution by
// dependency-satisfaction events, dispatching each node through
// TryStartNode as soon as its predecessors are satisfied.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/smilemakc/workflow-engine/internal/apperr"
	"github.com/smilemakc/workflow-engine/internal/condition"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/propagator"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/repository"
	"github.com/smilemakc/workflow-engine/internal/runner"
)

// UIBridge is the subset of the UI Interaction Bridge (§4.5) the scheduler
// depends on to decide whether a node suspends for interactive input.
type UIBridge interface {
	IsInteractive(n *model.Node) bool
	Suspend(ctx context.Context, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node) (*model.UIInteraction, error)
}

// Deps bundles the Scheduler's collaborators. All fields are required
// except Logger and EventRepo, which may be nil.
type Deps struct {
	Propagator    *propagator.Propagator
	ProgramNames  propagator.ProgramNames
	Runner        runner.ProgramRunner
	UIBridge      UIBridge
	Condition     *condition.Evaluator
	ExecutionRepo repository.ExecutionRepository
	EventRepo     repository.EventRepository
	Logger        *logger.Logger
}

// Scheduler is the event-driven dispatcher. One Scheduler instance is
// shared process-wide; it holds only the global concurrency cap and the
// per-execution node locks, never workflow state.
type Scheduler struct {
	deps      Deps
	globalSem chan struct{}

	mu        sync.Mutex
	nodeLocks map[string]map[string]*sync.Mutex // executionID -> nodeID -> lock
}

// New builds a Scheduler capped at maxConcurrentExecutions concurrent
// executions (§4.4 "process-global semaphore", default 10).
func New(deps Deps, maxConcurrentExecutions int) *Scheduler {
	if maxConcurrentExecutions <= 0 {
		maxConcurrentExecutions = 10
	}
	return &Scheduler{
		deps:      deps,
		globalSem: make(chan struct{}, maxConcurrentExecutions),
		nodeLocks: make(map[string]map[string]*sync.Mutex),
	}
}

func (s *Scheduler) nodeLock(executionID, nodeID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	execLocks, ok := s.nodeLocks[executionID]
	if !ok {
		execLocks = make(map[string]*sync.Mutex)
		s.nodeLocks[executionID] = execLocks
	}
	lock, ok := execLocks[nodeID]
	if !ok {
		lock = &sync.Mutex{}
		execLocks[nodeID] = lock
	}
	return lock
}

// ReleaseExecution discards the per-node locks for a finished execution,
// preventing the lock map from growing unbounded across the process
// lifetime.
func (s *Scheduler) ReleaseExecution(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodeLocks, executionID)
}

// Run drives execution until every enabled node has reached a terminal
// status, or until ctx or the session is cancelled. A node in
// WaitingForInput keeps the latch pending, so Run stays blocked while any
// node waits for input. It blocks the caller
// (the engine facade queues this on a background work item, §4.6
// "Execute"). Run acquires the global execution semaphore for its
// duration and releases it on return.
func (s *Scheduler) Run(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	select {
	case s.globalSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.globalSem }()

	l := newLatch(enabledNonLoopNodeIDs(w))
	d := &dispatch{
		sched:   s,
		session: session,
		exec:    exec,
		w:       w,
		latch:   l,
	}

	for _, n := range w.StartNodes() {
		node := n
		go d.tryStartNode(ctx, node.ID)
	}

	select {
	case <-l.done:
	case <-ctx.Done():
	case <-session.Ctx.Done():
	}
}

// ResumeSuccessors re-enters the dispatch loop for N's successors after an
// external mutation to N outside the normal tryStartNode path — a UI
// interaction timeout under ContinueOnError (§4.5 "Timeout processing") or
// a facade SkipNode. It runs to quiescence of the remaining subtree before
// returning.
func (s *Scheduler) ResumeSuccessors(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow, nodeID string) {
	l := newLatch(enabledNonLoopNodeIDs(w))
	// Pre-seed the latch with everything already terminal so it only
	// blocks on the remaining subtree.
	for id, ne := range exec.NodeExecutions {
		if ne.Status.IsTerminal() {
			l.markDone(id)
		}
	}

	d := &dispatch{sched: s, session: session, exec: exec, w: w, latch: l}
	for _, succ := range w.OutgoingEnabledEdges(nodeID) {
		edge := succ
		go d.tryStartNode(ctx, edge.Target)
	}
	l.wait(ctx)
}

// Resume re-drives a previously Paused execution to quiescence (§4.6
// "Resume ... re-admits and re-dispatches the remaining not-yet-Completed
// nodes"). Unlike Run, which only ever fans out from the workflow's start
// nodes, Resume fans out from every enabled node: a node whose predecessors
// already completed before the pause must get its own tryStartNode call
// since no predecessor completion remains to cascade into it.
func (s *Scheduler) Resume(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	select {
	case s.globalSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.globalSem }()

	l := newLatch(enabledNonLoopNodeIDs(w))
	for id, ne := range exec.NodeExecutions {
		if ne.Status.IsTerminal() {
			l.markDone(id)
		}
	}
	d := &dispatch{sched: s, session: session, exec: exec, w: w, latch: l}

	for _, n := range w.EnabledNodes() {
		node := n
		go d.tryStartNode(ctx, node.ID)
	}

	l.wait(ctx)
}

// DispatchNode re-enters tryStartNode for a single already-admitted node
// outside the normal dependency cascade — the facade's RetryNode and
// ExecuteNode operations. It relies on tryStartNode's own transition guard
// (execute's CanTransitionToRunning check) to reject a node not eligible
// to run; the caller is expected to have already put the node into a
// runnable status (e.g. Retrying) before calling this.
func (s *Scheduler) DispatchNode(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow, nodeID string) {
	l := newLatch(enabledNonLoopNodeIDs(w))
	for id, ne := range exec.NodeExecutions {
		if id != nodeID && ne.Status.IsTerminal() {
			l.markDone(id)
		}
	}
	d := &dispatch{sched: s, session: session, exec: exec, w: w, latch: l}
	go d.tryStartNode(ctx, nodeID)
	l.wait(ctx)
}

func enabledNonLoopNodeIDs(w *model.Workflow) []string {
	ids := make([]string, 0, len(w.Nodes))
	for _, n := range w.EnabledNodes() {
		ids = append(ids, n.ID)
	}
	return ids
}

// dispatch carries the per-Run state shared by every tryStartNode
// invocation for one execution.
type dispatch struct {
	sched   *Scheduler
	session *registry.Session
	exec    *model.WorkflowExecution
	w       *model.Workflow
	latch   *latch
}

// tryStartNode implements §4.4's TryStartNode(N).
func (d *dispatch) tryStartNode(ctx context.Context, nodeID string) {
	lock := d.sched.nodeLock(d.exec.ID, nodeID)
	if !lock.TryLock() {
		return // another event is already handling N
	}
	defer lock.Unlock()

	select {
	case <-ctx.Done():
		return
	default:
	}

	n, ok := d.w.GetNode(nodeID)
	if !ok || n.Disabled {
		return
	}

	ne := d.exec.NodeExecutions[nodeID]
	if ne == nil || ne.Status.IsTerminal() || ne.Status == model.NodeRunning || ne.Status == model.NodeWaitingForInput {
		return
	}

	if !d.dependenciesSatisfied(n) {
		if d.allPredecessorsTerminal(n) {
			d.autoSkip(ctx, n, ne)
		}
		return
	}

	d.session.MarkRunning(nodeID)
	select {
	case d.session.NodeSemaphore <- struct{}{}:
	case <-ctx.Done():
		d.session.MarkNotRunning(nodeID)
		return
	}

	outcome := d.execute(ctx, n, ne)

	<-d.session.NodeSemaphore
	d.session.MarkNotRunning(nodeID)

	switch outcome {
	case outcomeWaiting:
		d.session.MarkWaiting(nodeID)
		return // N resumes via §4.5; latch stays pending
	case outcomeCompleted:
		d.session.MarkCompleted(nodeID)
		d.latch.markDone(nodeID)
	case outcomeFailed:
		d.session.MarkFailed(nodeID)
		d.latch.markDone(nodeID)
		if !d.exec.Context.ContinueOnError {
			d.session.Cancel()
			return
		}
	case outcomeAborted:
		d.session.MarkFailed(nodeID)
		d.latch.markDone(nodeID)
		d.session.Cancel() // §7 "SystemError: ... the scheduler aborts"
		return
	}

	for _, succ := range d.w.OutgoingEnabledEdges(nodeID) {
		if succ.IsLoop() {
			continue
		}
		edge := succ
		go d.tryStartNode(ctx, edge.Target)
	}
}

// dependenciesSatisfied implements §4.4's recheck: every enabled
// predecessor must be {Completed, Skipped}, or its mapping is optional,
// and the connecting edge's condition (if any) must evaluate true against
// the predecessor's recorded output.
func (d *dispatch) dependenciesSatisfied(n *model.Node) bool {
	for _, edge := range d.w.IncomingEnabledEdges(n.ID) {
		if edge.IsLoop() {
			continue
		}
		ne := d.exec.NodeExecutions[edge.Source]
		satisfied := ne != nil && ne.Status.Satisfied()
		if !satisfied && !isOptionalMapping(n, edge.Source) {
			return false
		}
		if satisfied && edge.Condition != "" {
			output, _ := d.session.NodeOutput(edge.Source)
			ok, err := d.sched.deps.Condition.Evaluate(edge.Condition, output.Payload)
			if err != nil || !ok {
				return false
			}
		}
	}
	return true
}

// allPredecessorsTerminal reports whether every non-loop predecessor of n
// has reached a terminal status, meaning n's dependencies can never
// newly become satisfied by a future event (a fired condition or a
// retry aside). Used to auto-skip nodes left permanently unreachable by a
// false branch condition or an upstream, continued-past failure, so the
// workflow's completion latch is not left pending forever.
func (d *dispatch) allPredecessorsTerminal(n *model.Node) bool {
	for _, edge := range d.w.IncomingEnabledEdges(n.ID) {
		if edge.IsLoop() {
			continue
		}
		ne := d.exec.NodeExecutions[edge.Source]
		if ne == nil || !ne.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (d *dispatch) autoSkip(ctx context.Context, n *model.Node, ne *model.NodeExecution) {
	if ne == nil || ne.Status != model.NodePending {
		return
	}
	ne.Status = model.NodeSkipped
	ne.SkipReason = "unreachable: incoming dependencies not satisfied"
	completedAt := time.Now()
	ne.CompletedAt = &completedAt
	d.persistNode(ctx, n.ID, ne)
	if d.sched.deps.Logger != nil {
		d.sched.deps.Logger.WarnContext(ctx, "node auto-skipped", "executionId", d.exec.ID, "nodeId", n.ID, "reason", ne.SkipReason)
	}
	d.session.MarkCompleted(n.ID)
	d.latch.markDone(n.ID)

	for _, succ := range d.w.OutgoingEnabledEdges(n.ID) {
		if succ.IsLoop() {
			continue
		}
		edge := succ
		go d.tryStartNode(ctx, edge.Target)
	}
}

func isOptionalMapping(n *model.Node, sourceNodeID string) bool {
	for _, m := range n.Input.Mappings {
		if m.SourceNodeID == sourceNodeID && m.IsOptional {
			return true
		}
	}
	return false
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeWaiting
	outcomeAborted
)

// execute implements §4.4's "Per-node execution" steps 1-7.
func (d *dispatch) execute(ctx context.Context, n *model.Node, ne *model.NodeExecution) outcome {
	log := d.sched.deps.Logger

	if !model.CanTransitionToRunning(ne.Status) {
		return outcomeAborted
	}
	now := time.Now()
	ne.Status = model.NodeRunning
	ne.StartedAt = &now
	d.persistNode(ctx, n.ID, ne)
	if log != nil {
		log.InfoContext(ctx, "node running", "executionId", d.exec.ID, "nodeId", n.ID)
	}

	if d.sched.deps.UIBridge.IsInteractive(n) {
		interaction, err := d.sched.deps.UIBridge.Suspend(ctx, d.exec, d.w, n)
		if err != nil {
			return d.fail(ctx, n, ne, apperr.NewNodeError(apperr.NodeSystemError, "suspend for UI input failed: "+err.Error(), nil, false))
		}
		ne.Status = model.NodeWaitingForInput
		d.persistNode(ctx, n.ID, ne)
		if log != nil {
			log.InfoContext(ctx, "node waiting for input", "executionId", d.exec.ID, "nodeId", n.ID, "interactionId", interaction.ID)
		}
		return outcomeWaiting
	}

	return d.runProgram(ctx, n, ne, nil, nil)
}

// runProgram implements §4.4 steps 4-7 (program invocation through output
// processing), shared by the normal per-node dispatch and by a UI resume's
// re-entry into N once its interaction is complete (§4.5 "Resume" steps
// 5-6). extraInput/extraEnv let a resume merge the UI output document into
// N's input and environment without duplicating this logic.
func (d *dispatch) runProgram(ctx context.Context, n *model.Node, ne *model.NodeExecution, extraInput map[string]any, extraEnv map[string]string) outcome {
	log := d.sched.deps.Logger

	input := d.sched.deps.Propagator.BuildInput(d.w, n, d.exec.Context, d.session, d.sched.deps.ProgramNames)
	for k, v := range extraInput {
		input.Document[k] = v
	}
	ne.Input = input.Document

	timeout := time.Duration(n.Execution.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := mergedEnvironment(n.Execution.Environment, input.Artifact)
	for k, v := range extraEnv {
		env[k] = v
	}

	req := runner.ProjectExecutionRequest{
		ProgramID:      n.ProgramID,
		VersionID:      n.VersionID,
		Parameters:     input.Document,
		Environment:    env,
		TimeoutMinutes: n.Execution.TimeoutMinutes,
		ResourceLimits: runner.ResourceLimits{
			MaxCPUPercentage: n.Execution.ResourceLimits.MaxCPUPercentage,
			MaxMemoryMB:      n.Execution.ResourceLimits.MaxMemoryMB,
			MaxDiskMB:        n.Execution.ResourceLimits.MaxDiskMB,
		},
	}

	result, err := d.sched.deps.Runner.ExecuteProject(runCtx, req)
	if runCtx.Err() == context.DeadlineExceeded {
		return d.fail(ctx, n, ne, apperr.NewNodeError(apperr.NodeTimeoutError, "node execution timed out", nil, true))
	}
	if err != nil {
		return d.fail(ctx, n, ne, apperr.NewNodeError(apperr.NodeSystemError, err.Error(), nil, true))
	}
	if !result.Success {
		exitCode := result.ExitCode
		return d.fail(ctx, n, ne, apperr.NewNodeError(apperr.NodeExecutionError, result.ErrorMessage, &exitCode, true))
	}

	contract := d.sched.deps.Propagator.ProcessOutput(n, model.RunnerResult{
		Stdout:      result.Output,
		Stderr:      result.ErrorOutput,
		ExitCode:    result.ExitCode,
		Success:     result.Success,
		DurationMS:  result.DurationMS,
		OutputFiles: toRunnerOutputFiles(result.OutputFiles),
	})
	d.session.SetNodeOutput(n.ID, contract)
	ne.Output = contract.Payload
	ne.Status = model.NodeCompleted
	completedAt := time.Now()
	ne.CompletedAt = &completedAt
	d.persistNode(ctx, n.ID, ne)
	if log != nil {
		log.InfoContext(ctx, "node completed", "executionId", d.exec.ID, "nodeId", n.ID, "durationMs", result.DurationMS)
	}
	return outcomeCompleted
}

// ResumeNode re-enters execution for a node already taken out of
// WaitingForInput by a completed UI interaction (§4.5 "Resume" steps 5-7).
// The facade's RetryNode and ExecuteNode use DispatchNode instead.
// Per §3's transition guard, a WaitingForInput node moves directly to a
// terminal status — it does not pass back through Running. ResumeNode runs
// N to a terminal outcome and then drives the dependency cascade over its
// successors to quiescence, exactly like tryStartNode's post-execution
// handling, since the caller has already established N is eligible to run.
func (s *Scheduler) ResumeNode(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node, extraInput map[string]any, extraEnv map[string]string) {
	ne := exec.NodeExecutions[n.ID]
	if ne == nil {
		return
	}

	l := newLatch(enabledNonLoopNodeIDs(w))
	for id, e := range exec.NodeExecutions {
		if e.Status.IsTerminal() {
			l.markDone(id)
		}
	}
	d := &dispatch{sched: s, session: session, exec: exec, w: w, latch: l}

	session.MarkRunning(n.ID)
	select {
	case session.NodeSemaphore <- struct{}{}:
	case <-ctx.Done():
		session.MarkNotRunning(n.ID)
		return
	}
	result := d.runProgram(ctx, n, ne, extraInput, extraEnv)
	<-session.NodeSemaphore
	session.MarkNotRunning(n.ID)

	switch result {
	case outcomeCompleted:
		session.ClearWaiting(n.ID)
		session.MarkCompleted(n.ID)
		l.markDone(n.ID)
	case outcomeFailed:
		session.ClearWaiting(n.ID)
		session.MarkFailed(n.ID)
		l.markDone(n.ID)
		if !exec.Context.ContinueOnError {
			session.Cancel()
			return
		}
	case outcomeAborted:
		session.ClearWaiting(n.ID)
		session.MarkFailed(n.ID)
		l.markDone(n.ID)
		session.Cancel()
		return
	}

	for _, succ := range w.OutgoingEnabledEdges(n.ID) {
		if succ.IsLoop() {
			continue
		}
		edge := succ
		go d.tryStartNode(ctx, edge.Target)
	}
	l.wait(ctx)
}

func (d *dispatch) fail(ctx context.Context, n *model.Node, ne *model.NodeExecution, nodeErr *apperr.NodeError) outcome {
	ne.Error = nodeErr
	ne.Status = model.NodeFailed
	completedAt := time.Now()
	ne.CompletedAt = &completedAt
	d.persistNode(ctx, n.ID, ne)

	log := d.sched.deps.Logger
	if log != nil {
		log.ErrorContext(ctx, "node failed", "executionId", d.exec.ID, "nodeId", n.ID, "errorType", string(nodeErr.Type), "message", nodeErr.Message)
	}

	if nodeErr.Type == apperr.NodeSystemError {
		desc := &apperr.WorkflowErrorDescriptor{Type: apperr.WorkflowExecutionError, Message: nodeErr.Message, CanRetry: true}
		if err := d.sched.deps.ExecutionRepo.SetError(ctx, d.exec.ID, desc); err != nil && log != nil {
			log.ErrorContext(ctx, "failed to persist workflow error", "executionId", d.exec.ID, "error", err)
		}
		if log != nil {
			log.CriticalContext(ctx, "system error aborted execution", "executionId", d.exec.ID, "nodeId", n.ID)
		}
		return outcomeAborted
	}
	return outcomeFailed
}

func (d *dispatch) persistNode(ctx context.Context, nodeID string, ne *model.NodeExecution) {
	if err := d.sched.deps.ExecutionRepo.UpdateNodeExecution(ctx, d.exec.ID, nodeID, ne); err != nil && d.sched.deps.Logger != nil {
		d.sched.deps.Logger.ErrorContext(ctx, "failed to persist node execution", "executionId", d.exec.ID, "nodeId", nodeID, "error", err)
	}
	d.appendLog(ctx, logLevelForStatus(ne.Status), nodeID, "node "+string(ne.Status), ne)
}

// appendLog writes to the append-only execution log stream (§7
// "Visibility"). Failures are logged but never fail the node transition
// that triggered them.
func (d *dispatch) appendLog(ctx context.Context, level, nodeID, message string, ne *model.NodeExecution) {
	if d.sched.deps.EventRepo == nil {
		return
	}
	metadata := map[string]any{}
	if ne.StartedAt != nil && ne.CompletedAt != nil {
		metadata["elapsedMs"] = ne.CompletedAt.Sub(*ne.StartedAt).Milliseconds()
	}
	if ne.Error != nil {
		metadata["error"] = ne.Error
	}
	entry := model.LogEntry{Timestamp: time.Now(), Level: level, NodeID: nodeID, Message: message, Metadata: metadata}
	if err := d.sched.deps.EventRepo.Append(ctx, d.exec.ID, entry); err != nil && d.sched.deps.Logger != nil {
		d.sched.deps.Logger.ErrorContext(ctx, "failed to append execution log", "executionId", d.exec.ID, "error", err)
	}
}

func logLevelForStatus(status model.NodeExecutionStatus) string {
	switch status {
	case model.NodeFailed:
		return "Error"
	case model.NodeSkipped, model.NodeRetrying:
		return "Warning"
	default:
		return "Info"
	}
}

func mergedEnvironment(base map[string]string, artifact string) map[string]string {
	env := make(map[string]string, len(base)+1)
	for k, v := range base {
		env[k] = v
	}
	env[propagator.WorkflowInputsEnvKey] = artifact
	return env
}

func toRunnerOutputFiles(files []runner.OutputFile) []model.RunnerOutputFile {
	out := make([]model.RunnerOutputFile, 0, len(files))
	for _, f := range files {
		out = append(out, model.RunnerOutputFile{FileName: f.FileName, Path: f.Path})
	}
	return out
}
