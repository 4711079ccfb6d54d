package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
)

// FileHandlers exposes the Engine Facade's file-download operations (§4.6).
// Unlike the other handler groups these return raw bytes rather than the
// JSON envelope, since the payload is the file itself.
type FileHandlers struct {
	facade *engine.Facade
	logger *logger.Logger
}

// NewFileHandlers builds a FileHandlers.
func NewFileHandlers(facade *engine.Facade, log *logger.Logger) *FileHandlers {
	return &FileHandlers{facade: facade, logger: log}
}

// HandleDownloadFile handles
// GET /api/v1/executions/:id/nodes/:nodeId/files/:fileName (§4.6
// "DownloadExecutionFile").
func (h *FileHandlers) HandleDownloadFile(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := getParam(c, "nodeId")
	if !ok {
		return
	}
	fileName, ok := getParam(c, "fileName")
	if !ok {
		return
	}

	data, err := h.facade.DownloadExecutionFile(c.Request.Context(), executionID, nodeID, fileName)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// HandleDownloadAllFiles handles GET /api/v1/executions/:id/files (§4.6
// "DownloadAllExecutionFiles"): every file produced by every node, bundled
// as a single archive.
func (h *FileHandlers) HandleDownloadAllFiles(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}

	data, err := h.facade.DownloadAllExecutionFiles(c.Request.Context(), executionID)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", executionID+"-files.zip"))
	c.Data(http.StatusOK, "application/zip", data)
}

type bulkDownloadRequest struct {
	Selections []nodeFileSelectionDTO `json:"selections" binding:"required,min=1,dive"`
}

type nodeFileSelectionDTO struct {
	NodeID   string `json:"nodeId" binding:"required"`
	FileName string `json:"fileName" binding:"required"`
}

// HandleBulkDownloadFiles handles POST /api/v1/executions/:id/files/bulk
// (§4.6 "BulkDownloadExecutionFiles"): a caller-chosen subset of files,
// bundled as a single archive.
func (h *FileHandlers) HandleBulkDownloadFiles(c *gin.Context) {
	executionID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req bulkDownloadRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	selections := make([]engine.NodeFileSelection, len(req.Selections))
	for i, sel := range req.Selections {
		selections[i] = engine.NodeFileSelection{NodeID: sel.NodeID, FileName: sel.FileName}
	}

	data, err := h.facade.BulkDownloadExecutionFiles(c.Request.Context(), executionID, selections)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", executionID+"-selected-files.zip"))
	c.Data(http.StatusOK, "application/zip", data)
}
