// Package notifier implements the Notification sink collaborator (§6):
// NotifyUIInteractionCreated, NotifyUIInteractionStatusChanged,
// NotifyUIInteractionAvailable, dispatched to zero or more registered
// sinks through a non-blocking, panic-isolated fan-out manager.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
)

// EventType names the notification-sink events: the three UI interaction
// events §6 requires plus three execution lifecycle events.
type EventType string

const (
	EventUIInteractionCreated       EventType = "ui_interaction.created"
	EventUIInteractionStatusChanged EventType = "ui_interaction.status_changed"
	EventUIInteractionAvailable     EventType = "ui_interaction.available"
	EventExecutionStarted           EventType = "execution.started"
	EventExecutionCompleted         EventType = "execution.completed"
	EventExecutionFailed            EventType = "execution.failed"
)

// Event carries either a UI interaction (with its prior status, where
// relevant) or an execution lifecycle transition, depending on Type.
type Event struct {
	Type        EventType
	Interaction model.UIInteraction
	PriorStatus model.UIInteractionStatus

	ExecutionID     string
	ExecutionStatus model.ExecutionStatus
	Message         string
}

// Sink receives dispatched notifications. Implementations must not block
// the caller for long; the Manager already runs each sink in its own
// goroutine, but a sink that never returns will leak it.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Manager fans a notification out to every registered sink, isolating
// each sink's panics and errors from the caller and from each other.
type Manager struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *logger.Logger
}

// New builds an empty Manager.
func New(log *logger.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a sink. Returns an error if the name is already taken.
func (m *Manager) Register(sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		if s.Name() == sink.Name() {
			return fmt.Errorf("notifier: sink %q already registered", sink.Name())
		}
	}
	m.sinks = append(m.sinks, sink)
	return nil
}

// Unregister removes a sink by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sinks {
		if s.Name() == name {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			return
		}
	}
}

// Count returns the number of registered sinks.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

func (m *Manager) dispatch(ctx context.Context, evt Event) {
	m.mu.RLock()
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	for _, s := range sinks {
		go m.notifyOne(ctx, s, evt)
	}
}

func (m *Manager) notifyOne(ctx context.Context, sink Sink, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			if m.log != nil {
				m.log.ErrorContext(ctx, "notifier sink panicked",
					"sink", sink.Name(), "event", string(evt.Type), "panic", r)
			}
		}
	}()
	if err := sink.Notify(ctx, evt); err != nil {
		if m.log != nil {
			m.log.ErrorContext(ctx, "notifier sink failed",
				"sink", sink.Name(), "event", string(evt.Type), "error", err)
		}
	}
}

// NotifyUIInteractionCreated dispatches the creation of a new interaction.
func (m *Manager) NotifyUIInteractionCreated(ctx context.Context, interaction model.UIInteraction) {
	m.dispatch(ctx, Event{Type: EventUIInteractionCreated, Interaction: interaction})
}

// NotifyUIInteractionStatusChanged dispatches an interaction status
// transition (§4.5 resume/timeout/cancel).
func (m *Manager) NotifyUIInteractionStatusChanged(ctx context.Context, interaction model.UIInteraction, prior model.UIInteractionStatus) {
	m.dispatch(ctx, Event{Type: EventUIInteractionStatusChanged, Interaction: interaction, PriorStatus: prior})
}

// NotifyUIInteractionAvailable dispatches that an interaction is ready for
// a client to pick up (e.g. surfaced in a pending-for-user list).
func (m *Manager) NotifyUIInteractionAvailable(ctx context.Context, interaction model.UIInteraction) {
	m.dispatch(ctx, Event{Type: EventUIInteractionAvailable, Interaction: interaction})
}

// NotifyExecutionStarted dispatches an execution's admission (§4.6
// "Execute").
func (m *Manager) NotifyExecutionStarted(ctx context.Context, executionID string) {
	m.dispatch(ctx, Event{Type: EventExecutionStarted, ExecutionID: executionID, ExecutionStatus: model.ExecutionRunning})
}

// NotifyExecutionCompleted dispatches an execution reaching Completed.
func (m *Manager) NotifyExecutionCompleted(ctx context.Context, executionID string) {
	m.dispatch(ctx, Event{Type: EventExecutionCompleted, ExecutionID: executionID, ExecutionStatus: model.ExecutionCompleted})
}

// NotifyExecutionFailed dispatches an execution reaching Failed or
// Cancelled, carrying a human-readable message.
func (m *Manager) NotifyExecutionFailed(ctx context.Context, executionID string, status model.ExecutionStatus, message string) {
	m.dispatch(ctx, Event{Type: EventExecutionFailed, ExecutionID: executionID, ExecutionStatus: status, Message: message})
}
