package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
)

// UIInteractionHandlers exposes the Engine Facade's human-in-the-loop
// operation (§4.6 "CompleteUIInteraction").
type UIInteractionHandlers struct {
	facade *engine.Facade
	logger *logger.Logger
}

// NewUIInteractionHandlers builds a UIInteractionHandlers.
func NewUIInteractionHandlers(facade *engine.Facade, log *logger.Logger) *UIInteractionHandlers {
	return &UIInteractionHandlers{facade: facade, logger: log}
}

type completeUIInteractionRequest struct {
	OutputData map[string]any `json:"outputData"`
}

// HandleCompleteUIInteraction handles
// POST /api/v1/executions/:id/interactions/:interactionId/complete (§4.6
// "CompleteUIInteraction(executionId, nodeId, interactionId, outputData)").
//
// The facade resolves the interaction id directly, so executionId in the
// path is used only to shape the route and is not threaded any further.
func (h *UIInteractionHandlers) HandleCompleteUIInteraction(c *gin.Context) {
	if _, ok := getParam(c, "id"); !ok {
		return
	}
	interactionID, ok := getParam(c, "interactionId")
	if !ok {
		return
	}

	var req completeUIInteractionRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	if err := h.facade.CompleteUIInteraction(c.Request.Context(), interactionID, req.OutputData); err != nil {
		h.logger.Error("failed to complete ui interaction", "error", err, "interaction_id", interactionID, "request_id", GetRequestID(c))
		respondAPIError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"completed": true})
}
