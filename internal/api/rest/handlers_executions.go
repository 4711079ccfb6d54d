package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
)

// ExecutionHandlers exposes the Engine Facade's execution-lifecycle
// operations (§4.6) over HTTP.
type ExecutionHandlers struct {
	facade      *engine.Facade
	idempotency engine.IdempotencyCache
	logger      *logger.Logger
}

// NewExecutionHandlers builds an ExecutionHandlers. idempotency may be nil
// when no idempotency cache is configured.
func NewExecutionHandlers(facade *engine.Facade, idempotency engine.IdempotencyCache, log *logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{facade: facade, idempotency: idempotency, logger: log}
}

type executeRequest struct {
	WorkflowID         string         `json:"workflowId" binding:"required"`
	UserInputs         map[string]any `json:"userInputs,omitempty"`
	MaxConcurrentNodes int            `json:"maxConcurrentNodes,omitempty"`
	TimeoutMinutes     int            `json:"timeoutMinutes,omitempty"`
	ContinueOnError    bool           `json:"continueOnError,omitempty"`
	IdempotencyKey     string         `json:"idempotencyKey,omitempty"`
}

// HandleExecute handles POST /api/v1/executions (§4.6 "Execute").
func (h *ExecutionHandlers) HandleExecute(c *gin.Context) {
	var req executeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	exec, err := h.facade.Execute(c.Request.Context(), engine.ExecuteRequest{
		WorkflowID: req.WorkflowID,
		UserID:     userIDFromRequest(c),
		Context: model.ExecutionContext{
			UserInputs:         req.UserInputs,
			MaxConcurrentNodes: req.MaxConcurrentNodes,
			TimeoutMinutes:     req.TimeoutMinutes,
			ContinueOnError:    req.ContinueOnError,
		},
		IdempotencyKey: req.IdempotencyKey,
	}, h.idempotency)
	if err != nil {
		h.logger.Error("failed to start execution", "error", err, "workflow_id", req.WorkflowID, "request_id", GetRequestID(c))
		respondAPIError(c, err)
		return
	}

	respondJSON(c, http.StatusAccepted, exec)
}

// HandleGetExecution handles GET /api/v1/executions/:id (§4.6
// "GetExecutionStatus").
func (h *ExecutionHandlers) HandleGetExecution(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	exec, err := h.facade.GetExecutionStatus(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, exec)
}

// HandlePause handles POST /api/v1/executions/:id/pause (§4.6 "Pause").
func (h *ExecutionHandlers) HandlePause(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	if err := h.facade.Pause(c.Request.Context(), executionID); err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"paused": true})
}

// HandleResume handles POST /api/v1/executions/:id/resume (§4.6 "Resume").
func (h *ExecutionHandlers) HandleResume(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	exec, err := h.facade.Resume(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, exec)
}

// HandleCancel handles POST /api/v1/executions/:id/cancel (§4.6 "Cancel").
func (h *ExecutionHandlers) HandleCancel(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	if err := h.facade.Cancel(c.Request.Context(), executionID); err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"cancelled": true})
}

// HandleCleanup handles DELETE /api/v1/executions/:id (§4.6
// "CleanupExecution").
func (h *ExecutionHandlers) HandleCleanup(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	h.facade.CleanupExecution(executionID)
	c.Status(http.StatusNoContent)
}

// HandleGetActiveExecutions handles GET /api/v1/executions/active (§4.6
// "GetActiveExecutions").
func (h *ExecutionHandlers) HandleGetActiveExecutions(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.facade.GetActiveExecutions())
}

// HandleGetStatistics handles GET /api/v1/executions/:id/statistics (§4.6
// "GetExecutionStatistics").
func (h *ExecutionHandlers) HandleGetStatistics(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.facade.GetExecutionStatistics(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, stats)
}

// HandleGetLogs handles GET /api/v1/executions/:id/logs (§4.6
// "GetExecutionLogs(skip, take)").
func (h *ExecutionHandlers) HandleGetLogs(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	skip := getQueryInt(c, "skip", 0)
	take := getQueryInt(c, "take", 100)
	entries, err := h.facade.GetExecutionLogs(c.Request.Context(), executionID, skip, take)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondList(c, http.StatusOK, entries, len(entries), take, skip)
}

// HandleIsComplete handles GET /api/v1/executions/:id/complete (§4.6
// "IsExecutionComplete").
func (h *ExecutionHandlers) HandleIsComplete(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	complete, err := h.facade.IsExecutionComplete(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"complete": complete})
}
