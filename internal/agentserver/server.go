// Package agentserver exposes a deployment's workflows over HTTP so an
// orchestrator can dispatch executions to it.
package agentserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"weave/internal/config"
	"weave/internal/logging"
	"weave/internal/workflow/runtime"
)

// Server serves the execute endpoint for a catalog of workflows.
type Server struct {
	runner  *runtime.Runner
	catalog *config.Catalog
	logger  logging.Logger
}

// NewServer builds the agent surface.
func NewServer(runner *runtime.Runner, catalog *config.Catalog, logger logging.Logger) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("workflow runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("workflow catalog required")
	}
	return &Server{
		runner:  runner,
		catalog: catalog,
		logger:  logging.OrNop(logger),
	}, nil
}

// RegisterRoutes mounts the agent endpoints.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.POST("/execute", s.handleExecute)
	router.GET("/workflows", s.handleWorkflows)
	router.GET("/healthz", s.handleHealthz)
}

type executeRequest struct {
	WorkflowName string         `json:"workflow_name" binding:"required"`
	Inputs       map[string]any `json:"inputs"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf, err := s.catalog.Get(req.WorkflowName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.Run(c.Request.Context(), wf, req.Inputs)
	if err != nil {
		s.logger.Error("Execution of %s failed: %v", req.WorkflowName, err)
		status := http.StatusInternalServerError
		body := gin.H{"error": err.Error()}
		if result != nil {
			body["execution_id"] = result.ExecutionID
			body["status"] = result.Status
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id":     result.ExecutionID,
		"status":           result.Status,
		"outputs":          result.Outputs,
		"duration_seconds": result.DurationSeconds,
		"total_tokens":     result.TotalTokens,
	})
}

func (s *Server) handleWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": s.catalog.Names()})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"workflows": s.catalog.Len(),
	})
}
