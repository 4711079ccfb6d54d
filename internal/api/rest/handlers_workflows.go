package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
)

// WorkflowHandlers exposes the Engine Facade's workflow-level read
// operations (§4.1 Validator, surfaced standalone) over HTTP.
type WorkflowHandlers struct {
	facade *engine.Facade
	logger *logger.Logger
}

// NewWorkflowHandlers builds a WorkflowHandlers.
func NewWorkflowHandlers(facade *engine.Facade, log *logger.Logger) *WorkflowHandlers {
	return &WorkflowHandlers{facade: facade, logger: log}
}

type validateWorkflowRequest struct {
	MaxConcurrentNodes int  `json:"maxConcurrentNodes,omitempty"`
	TimeoutMinutes     int  `json:"timeoutMinutes,omitempty"`
	ContinueOnError    bool `json:"continueOnError,omitempty"`
}

// HandleValidateWorkflow handles POST /api/v1/workflows/:id/validate,
// running admission validation (structure, dependencies, complexity
// metrics) against a workflow without creating an execution.
func (h *WorkflowHandlers) HandleValidateWorkflow(c *gin.Context) {
	workflowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req validateWorkflowRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	result, err := h.facade.ValidateWorkflow(c.Request.Context(), workflowID, userIDFromRequest(c), model.ExecutionContext{
		MaxConcurrentNodes: req.MaxConcurrentNodes,
		TimeoutMinutes:     req.TimeoutMinutes,
		ContinueOnError:    req.ContinueOnError,
	})
	if err != nil {
		h.logger.Error("failed to validate workflow", "error", err, "workflow_id", workflowID, "request_id", GetRequestID(c))
		respondAPIError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}
