package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-engine/internal/config"
	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/logger"
)

// NewRouter assembles the gin.Engine exposing the Engine Facade's operations
// (§4.6) under /api/v1.
func NewRouter(cfg config.ServerConfig, facade *engine.Facade, idempotency engine.IdempotencyCache, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestLogger(log))

	if cfg.CORS {
		router.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	executionHandlers := NewExecutionHandlers(facade, idempotency, log)
	nodeHandlers := NewNodeHandlers(facade, log)
	interactionHandlers := NewUIInteractionHandlers(facade, log)
	fileHandlers := NewFileHandlers(facade, log)
	workflowHandlers := NewWorkflowHandlers(facade, log)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(RequireUser())
	{
		workflows := apiV1.Group("/workflows")
		{
			workflows.POST("/:id/validate", workflowHandlers.HandleValidateWorkflow)
		}

		executions := apiV1.Group("/executions")
		{
			executions.POST("", executionHandlers.HandleExecute)
			executions.GET("/active", executionHandlers.HandleGetActiveExecutions)
			executions.GET("/:id", executionHandlers.HandleGetExecution)
			executions.DELETE("/:id", executionHandlers.HandleCleanup)
			executions.POST("/:id/pause", executionHandlers.HandlePause)
			executions.POST("/:id/resume", executionHandlers.HandleResume)
			executions.POST("/:id/cancel", executionHandlers.HandleCancel)
			executions.GET("/:id/statistics", executionHandlers.HandleGetStatistics)
			executions.GET("/:id/logs", executionHandlers.HandleGetLogs)
			executions.GET("/:id/complete", executionHandlers.HandleIsComplete)

			executions.POST("/:id/nodes/:nodeId/retry", nodeHandlers.HandleRetryNode)
			executions.POST("/:id/nodes/:nodeId/skip", nodeHandlers.HandleSkipNode)
			executions.POST("/:id/nodes/:nodeId/execute", nodeHandlers.HandleExecuteNode)
			executions.GET("/:id/nodes/:nodeId/output", nodeHandlers.HandleGetNodeOutput)
			executions.GET("/:id/outputs", nodeHandlers.HandleGetAllNodeOutputs)

			executions.POST("/:id/interactions/:interactionId/complete", interactionHandlers.HandleCompleteUIInteraction)

			executions.GET("/:id/nodes/:nodeId/files/:fileName", fileHandlers.HandleDownloadFile)
			executions.GET("/:id/files", fileHandlers.HandleDownloadAllFiles)
			executions.POST("/:id/files/bulk", fileHandlers.HandleBulkDownloadFiles)
		}
	}

	return router
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			if _, ok := originSet[origin]; ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Vary", "Origin")
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
