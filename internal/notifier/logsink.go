package notifier

import (
	"context"

	"github.com/smilemakc/workflow-engine/internal/logger"
)

// LogSink records notification-sink events through structured logging. It
// is always safe to register and never fails a dispatch.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink builds a LogSink writing through log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, evt Event) error {
	if s.log == nil {
		return nil
	}
	switch evt.Type {
	case EventExecutionStarted, EventExecutionCompleted, EventExecutionFailed:
		s.log.InfoContext(ctx, "execution event",
			"event", string(evt.Type),
			"executionId", evt.ExecutionID,
			"status", string(evt.ExecutionStatus),
			"message", evt.Message,
		)
	default:
		s.log.InfoContext(ctx, "ui interaction event",
			"event", string(evt.Type),
			"executionId", evt.Interaction.ExecutionID,
			"nodeId", evt.Interaction.NodeID,
			"interactionId", evt.Interaction.ID,
			"status", string(evt.Interaction.Status),
			"priorStatus", string(evt.PriorStatus),
		)
	}
	return nil
}
