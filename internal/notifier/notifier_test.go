package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name    string
	mu      sync.Mutex
	events  []Event
	failErr error
	panics  bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(ctx context.Context, evt Event) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.failErr
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
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

func TestManager_Register_DuplicateNameRejected(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Register(&recordingSink{name: "a"}))
	err := m.Register(&recordingSink{name: "a"})
	assert.Error(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestManager_Unregister(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Register(&recordingSink{name: "a"}))
	m.Unregister("a")
	assert.Equal(t, 0, m.Count())
}

func TestManager_NotifyUIInteractionCreated_DispatchesToAllSinks(t *testing.T) {
	m := New(nil)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	interaction := model.UIInteraction{ID: "i1", ExecutionID: "e1"}
	m.NotifyUIInteractionCreated(context.Background(), interaction)

	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })
	assert.Equal(t, EventUIInteractionCreated, a.events[0].Type)
}

func TestManager_FailingSinkDoesNotBlockOthers(t *testing.T) {
	m := New(nil)
	failing := &recordingSink{name: "failing", failErr: errors.New("boom")}
	ok := &recordingSink{name: "ok"}
	require.NoError(t, m.Register(failing))
	require.NoError(t, m.Register(ok))

	m.NotifyUIInteractionStatusChanged(context.Background(), model.UIInteraction{ID: "i1"}, model.UIInteractionPending)

	waitFor(t, func() bool { return ok.count() == 1 && failing.count() == 1 })
}

func TestManager_PanickingSinkIsRecovered(t *testing.T) {
	m := New(nil)
	panicker := &recordingSink{name: "panicker", panics: true}
	ok := &recordingSink{name: "ok"}
	require.NoError(t, m.Register(panicker))
	require.NoError(t, m.Register(ok))

	m.NotifyUIInteractionAvailable(context.Background(), model.UIInteraction{ID: "i1"})

	waitFor(t, func() bool { return ok.count() == 1 })
}
