// Package registry implements the Session Registry (§4.2): a process-wide,
// thread-safe table of live execution sessions enforcing "at most one
// active execution per workflow".
package registry

import (
	"context"
	"sync"

	"github.com/smilemakc/workflow-engine/internal/model"
)

// Session is the in-memory scheduling state of a running execution (§3
// "Session"). It is exclusively owned by the engine process.
type Session struct {
	ExecutionID string
	WorkflowID  string

	mu           sync.RWMutex
	status       model.ExecutionStatus
	nodeOutputs  map[string]model.WorkflowDataContract
	runningNodes map[string]struct{}
	waiting      map[string]struct{}
	completed    map[string]struct{}
	failed       map[string]struct{}

	// Cancel is the session's cooperative cancellation source (§5
	// "Cancellation"). Pause/Cancel invoke it; per-node tasks derive their
	// context from it.
	Cancel context.CancelFunc
	Ctx    context.Context

	// NodeSemaphore bounds concurrent node execution within this session
	// (§4.4 "a per-execution semaphore limits the number of concurrent
	// nodes").
	NodeSemaphore chan struct{}

	finalizeOnce sync.Once
}

// NewSession builds a fresh in-memory session for an admitted execution.
func NewSession(parent context.Context, executionID, workflowID string, maxConcurrentNodes int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ExecutionID:   executionID,
		WorkflowID:    workflowID,
		status:        model.ExecutionRunning,
		nodeOutputs:   make(map[string]model.WorkflowDataContract),
		runningNodes:  make(map[string]struct{}),
		waiting:       make(map[string]struct{}),
		completed:     make(map[string]struct{}),
		failed:        make(map[string]struct{}),
		Cancel:        cancel,
		Ctx:           ctx,
		NodeSemaphore: make(chan struct{}, maxConcurrentNodes),
	}
}

// Status returns the session's current status.
func (s *Session) Status() model.ExecutionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus updates the session's status.
func (s *Session) SetStatus(status model.ExecutionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetNodeOutput records node N's output document in the session, the sole
// happens-before edge successors rely on (§5 "Ordering guarantees").
func (s *Session) SetNodeOutput(nodeID string, output model.WorkflowDataContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs[nodeID] = output
}

// NodeOutput returns node N's recorded output, if any.
func (s *Session) NodeOutput(nodeID string) (model.WorkflowDataContract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.nodeOutputs[nodeID]
	return out, ok
}

// AllNodeOutputs returns a snapshot of every recorded node output (§5
// "exposing these as hash-set views must return snapshots").
func (s *Session) AllNodeOutputs() map[string]model.WorkflowDataContract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.WorkflowDataContract, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		out[k] = v
	}
	return out
}

// MarkRunning records nodeID as currently running. It returns false if the
// node was already marked running (defensive — TryStartNode's per-node lock
// is the actual single-admission guard).
func (s *Session) MarkRunning(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runningNodes[nodeID]; ok {
		return false
	}
	s.runningNodes[nodeID] = struct{}{}
	return true
}

// MarkNotRunning clears nodeID from the running set.
func (s *Session) MarkNotRunning(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningNodes, nodeID)
}

// RunningCount returns the number of nodes currently running (§8 invariant
// 4: "At no instant does the count of Running nodes in a session exceed
// MaxConcurrentNodes").
func (s *Session) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runningNodes)
}

// MarkWaiting records nodeID as suspended awaiting UI input.
func (s *Session) MarkWaiting(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting[nodeID] = struct{}{}
}

// ClearWaiting clears nodeID from the waiting set (on resume or timeout).
func (s *Session) ClearWaiting(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, nodeID)
}

// HasWaiting reports whether any node is currently WaitingForInput — this
// keeps the session "live" per §3 "Lifecycle / ownership ... retained while
// any node is WaitingForInput".
func (s *Session) HasWaiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.waiting) > 0
}

// MarkCompleted records nodeID as Completed (add-only concurrent-set
// semantics, §5 "Shared resource policy").
func (s *Session) MarkCompleted(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[nodeID] = struct{}{}
}

// MarkFailed records nodeID as Failed.
func (s *Session) MarkFailed(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[nodeID] = struct{}{}
}

// CompletedNodes returns a snapshot of the completed-node set.
func (s *Session) CompletedNodes() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.completed))
	for k := range s.completed {
		out[k] = struct{}{}
	}
	return out
}

// FailedNodes returns a snapshot of the failed-node set.
func (s *Session) FailedNodes() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.failed))
	for k := range s.failed {
		out[k] = struct{}{}
	}
	return out
}

// Reactivate rebuilds the session's cancellation source from parent and
// marks it Running again, for Resume (§4.6 "Resume ... re-admits and
// re-dispatches") — a cancelled context.CancelFunc can never be
// un-cancelled, so a paused session needs a fresh one before the scheduler
// can drive it any further.
func (s *Session) Reactivate(parent context.Context) {
	s.mu.Lock()
	s.status = model.ExecutionRunning
	s.mu.Unlock()
	s.Ctx, s.Cancel = context.WithCancel(parent)
}

// FinalizeOnce runs fn at most once for this session. A session can reach
// terminal quiescence from more than one independent continuation — the
// goroutine that launched it and, separately, a UI-resume or timeout
// continuation that cancels the same session — so the caller that performs
// the actual terminal bookkeeping (persisting results/status, removing the
// session) must be serialized against the others racing to do the same.
func (s *Session) FinalizeOnce(fn func()) {
	s.finalizeOnce.Do(fn)
}

// IsLive reports whether the session counts toward the "at most one active
// execution per workflow" invariant (§3 "Session Registry holds at most one
// session per workflow id in status Running or Paused or containing any
// WaitingForInput node").
func (s *Session) IsLive() bool {
	status := s.Status()
	if status == model.ExecutionRunning || status == model.ExecutionPaused {
		return true
	}
	return s.HasWaiting()
}

// ConflictError is returned by TryAdmit when another session is already
// live for the same workflow.
type ConflictError struct {
	WorkflowID          string
	ConflictingExecutionID string
}

func (e *ConflictError) Error() string {
	return "workflow " + e.WorkflowID + " is already running. Execution ID: " + e.ConflictingExecutionID
}

// Registry is the process-wide Session Registry (§4.2).
type Registry struct {
	mu             sync.Mutex
	byExecution    map[string]*Session
	liveByWorkflow map[string]string // workflowID -> executionID
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byExecution:    make(map[string]*Session),
		liveByWorkflow: make(map[string]string),
	}
}

// TryAdmit atomically admits session for workflowID, succeeding iff no
// other session for workflowID is currently live (§4.2 "TryAdmit"). On
// conflict it returns the conflicting execution id via ConflictError — the
// single critical section that makes concurrent Execute calls for the same
// workflow race-free (§8 S5).
func (r *Registry) TryAdmit(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.liveByWorkflow[session.WorkflowID]; ok {
		if existing, found := r.byExecution[existingID]; found && existing.IsLive() {
			return &ConflictError{WorkflowID: session.WorkflowID, ConflictingExecutionID: existingID}
		}
	}

	r.byExecution[session.ExecutionID] = session
	r.liveByWorkflow[session.WorkflowID] = session.ExecutionID
	return nil
}

// Get returns the session for executionID, if present.
func (r *Registry) Get(executionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byExecution[executionID]
	return s, ok
}

// Remove deletes the session for executionID (§3 "removed when ... all
// nodes reached terminal status and finalization completed, or (b)
// execution was cancelled").
func (r *Registry) Remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byExecution[executionID]
	if !ok {
		return
	}
	delete(r.byExecution, executionID)
	if r.liveByWorkflow[s.WorkflowID] == executionID {
		delete(r.liveByWorkflow, s.WorkflowID)
	}
}

// IsRunning reports whether workflowID has a live session (§4.2 "IsRunning").
func (r *Registry) IsRunning(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.liveByWorkflow[workflowID]
	if !ok {
		return false
	}
	s, found := r.byExecution[id]
	return found && s.IsLive()
}

// RunningExecutionOf returns the live execution id for workflowID, if any
// (§4.2 "RunningExecutionOf").
func (r *Registry) RunningExecutionOf(workflowID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.liveByWorkflow[workflowID]
	if !ok {
		return "", false
	}
	s, found := r.byExecution[id]
	if !found || !s.IsLive() {
		return "", false
	}
	return id, true
}

// All returns a snapshot of every currently tracked session, used by
// graceful shutdown to drain sessions (§9 "Global state").
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byExecution))
	for _, s := range r.byExecution {
		out = append(out, s)
	}
	return out
}

// Shutdown cancels every tracked session's cancellation source so in-flight
// tasks observe cancellation, per §9 "drained on graceful shutdown by
// cancelling all sessions".
func (r *Registry) Shutdown() {
	for _, s := range r.All() {
		s.Cancel()
	}
}
