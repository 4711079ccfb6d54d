package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
)

// NodeHandlers exposes the Engine Facade's per-node operations (§4.6).
type NodeHandlers struct {
	facade *engine.Facade
	logger *logger.Logger
}

// NewNodeHandlers builds a NodeHandlers.
func NewNodeHandlers(facade *engine.Facade, log *logger.Logger) *NodeHandlers {
	return &NodeHandlers{facade: facade, logger: log}
}

// HandleRetryNode handles POST /api/v1/executions/:id/nodes/:nodeId/retry
// (§4.6 "RetryNode").
func (h *NodeHandlers) HandleRetryNode(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := getParam(c, "nodeId")
	if !ok {
		return
	}
	ne, err := h.facade.RetryNode(c.Request.Context(), executionID, nodeID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ne)
}

type skipNodeRequest struct {
	Reason string `json:"reason"`
}

// HandleSkipNode handles POST /api/v1/executions/:id/nodes/:nodeId/skip
// (§4.6 "SkipNode").
func (h *NodeHandlers) HandleSkipNode(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := getParam(c, "nodeId")
	if !ok {
		return
	}
	var req skipNodeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if err := h.facade.SkipNode(c.Request.Context(), executionID, nodeID, req.Reason); err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"skipped": true})
}

// HandleExecuteNode handles POST /api/v1/executions/:id/nodes/:nodeId/execute
// (§4.6 "ExecuteNode (manual, forbidden while automatic Running)").
func (h *NodeHandlers) HandleExecuteNode(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := getParam(c, "nodeId")
	if !ok {
		return
	}
	ne, err := h.facade.ExecuteNode(c.Request.Context(), executionID, nodeID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ne)
}

// HandleGetNodeOutput handles GET /api/v1/executions/:id/nodes/:nodeId/output
// (§4.6 "GetNodeOutput").
func (h *NodeHandlers) HandleGetNodeOutput(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := getParam(c, "nodeId")
	if !ok {
		return
	}
	out, err := h.facade.GetNodeOutput(c.Request.Context(), executionID, nodeID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, out)
}

// HandleGetAllNodeOutputs handles GET /api/v1/executions/:id/outputs (§4.6
// "GetAllNodeOutputs").
func (h *NodeHandlers) HandleGetAllNodeOutputs(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	outputs, err := h.facade.GetAllNodeOutputs(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, outputs)
}
