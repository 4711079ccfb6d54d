package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAdmit_SucceedsOnce(t *testing.T) {
	r := New()
	s1 := NewSession(context.Background(), "exec-1", "wf-1", 4)

	require.NoError(t, r.TryAdmit(s1))
	assert.True(t, r.IsRunning("wf-1"))
}

func TestTryAdmit_ConflictsOnSecondLiveSession(t *testing.T) {
	r := New()
	s1 := NewSession(context.Background(), "exec-1", "wf-1", 4)
	s2 := NewSession(context.Background(), "exec-2", "wf-1", 4)

	require.NoError(t, r.TryAdmit(s1))
	err := r.TryAdmit(s2)
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "exec-1", conflict.ConflictingExecutionID)
}

func TestTryAdmit_AllowsReAdmissionAfterRemoval(t *testing.T) {
	r := New()
	s1 := NewSession(context.Background(), "exec-1", "wf-1", 4)
	require.NoError(t, r.TryAdmit(s1))
	r.Remove("exec-1")

	s2 := NewSession(context.Background(), "exec-2", "wf-1", 4)
	assert.NoError(t, r.TryAdmit(s2))
}

func TestTryAdmit_ConcurrentCallsOnlyOneWins(t *testing.T) {
	// Mirrors §8 S5: two simultaneous Execute calls for the same workflow.
	r := New()
	const attempts = 50
	var wg sync.WaitGroup
	successes := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			execID := "exec-" + string(rune('a'+i))
			s := NewSession(context.Background(), execID, "wf-shared", 4)
			if err := r.TryAdmit(s); err == nil {
				successes <- execID
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSession_IsLive_WaitingForInputKeepsSessionLive(t *testing.T) {
	s := NewSession(context.Background(), "exec-1", "wf-1", 4)
	s.SetStatus(model.ExecutionRunning)
	// Draining: status could move toward a terminal value while a node is
	// still WaitingForInput; IsLive must still report true.
	s.MarkWaiting("node-A")
	s.SetStatus(model.ExecutionCompleted)
	assert.True(t, s.IsLive())

	s.ClearWaiting("node-A")
	assert.False(t, s.IsLive())
}

func TestSession_NodeOutputs_Snapshot(t *testing.T) {
	s := NewSession(context.Background(), "exec-1", "wf-1", 4)
	s.SetNodeOutput("A", model.WorkflowDataContract{SourceNodeID: "A"})

	snapshot := s.AllNodeOutputs()
	snapshot["B"] = model.WorkflowDataContract{SourceNodeID: "B"}

	_, ok := s.NodeOutput("B")
	assert.False(t, ok, "mutating the snapshot must not affect the session")
}

func TestRegistry_Shutdown_CancelsAllSessions(t *testing.T) {
	r := New()
	s1 := NewSession(context.Background(), "exec-1", "wf-1", 4)
	s2 := NewSession(context.Background(), "exec-2", "wf-2", 4)
	require.NoError(t, r.TryAdmit(s1))
	require.NoError(t, r.TryAdmit(s2))

	r.Shutdown()

	assert.Error(t, s1.Ctx.Err())
	assert.Error(t, s2.Ctx.Err())
}
