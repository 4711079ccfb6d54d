package model

import "testing"

func TestNodeExecutionStatus_Satisfied(t *testing.T) {
	cases := map[NodeExecutionStatus]bool{
		NodeCompleted:       true,
		NodeSkipped:         true,
		NodePending:         false,
		NodeRunning:         false,
		NodeFailed:          false,
		NodeWaitingForInput: false,
	}
	for status, want := range cases {
		if got := status.Satisfied(); got != want {
			t.Errorf("status %s: Satisfied() = %v, want %v", status, got, want)
		}
	}
}

func TestCanTransitionToRunning(t *testing.T) {
	if !CanTransitionToRunning(NodePending) {
		t.Error("expected Pending -> Running to be allowed")
	}
	if !CanTransitionToRunning(NodeRetrying) {
		t.Error("expected Retrying -> Running to be allowed")
	}
	if CanTransitionToRunning(NodeCompleted) {
		t.Error("expected Completed -> Running to be disallowed")
	}
}

func TestCanTransitionToWaitingForInput(t *testing.T) {
	if !CanTransitionToWaitingForInput(NodeRunning) {
		t.Error("expected Running -> WaitingForInput to be allowed")
	}
	if CanTransitionToWaitingForInput(NodePending) {
		t.Error("expected Pending -> WaitingForInput to be disallowed")
	}
}

func TestCanTransitionToTerminal(t *testing.T) {
	if !CanTransitionToTerminal(NodeRunning) || !CanTransitionToTerminal(NodeWaitingForInput) {
		t.Error("expected Running and WaitingForInput to allow terminal transitions")
	}
	if CanTransitionToTerminal(NodePending) {
		t.Error("expected Pending to disallow terminal transitions")
	}
}

func TestNodeExecution_CanRetry(t *testing.T) {
	ne := &NodeExecution{Status: NodeFailed, RetryCount: 1, MaxRetries: 3}
	if !ne.CanRetry() {
		t.Error("expected CanRetry to be true")
	}
	ne.RetryCount = 3
	if ne.CanRetry() {
		t.Error("expected CanRetry to be false once retryCount == maxRetries")
	}
	ne.Status = NodeCompleted
	ne.RetryCount = 0
	if ne.CanRetry() {
		t.Error("expected CanRetry to be false for a non-Failed node")
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	for _, s := range []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCancelled} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []ExecutionStatus{ExecutionPending, ExecutionRunning, ExecutionPaused} {
		if s.IsTerminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}
