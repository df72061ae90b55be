// Package registry is the deployment rendezvous: workers register TTL-bounded
// leases over HTTP, heartbeat to keep them alive, and orchestrators discover
// them. A background sweeper removes expired leases off the request path.
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"weave/internal/logging"
	"weave/internal/storage"
)

// DefaultTTLSeconds applies when a register request omits ttl_seconds.
const DefaultTTLSeconds = 60

// DefaultSweepInterval is the lease sweeper period.
const DefaultSweepInterval = 60 * time.Second

// Service serves the deployment registry HTTP surface.
type Service struct {
	repo    storage.DeploymentRepository
	metrics *Metrics
	logger  logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics installs prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

// NewService builds the registry over a deployment repository.
func NewService(repo storage.DeploymentRepository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deployment repository required")
	}
	s := &Service{
		repo:   repo,
		logger: logging.NewComponentLogger("Registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterRoutes mounts the registry endpoints.
func (s *Service) RegisterRoutes(router gin.IRouter) {
	router.POST("/deployments/register", s.handleRegister)
	router.POST("/deployments/:id/heartbeat", s.handleHeartbeat)
	router.GET("/deployments", s.handleList)
	router.GET("/deployments/:id", s.handleGet)
	router.DELETE("/deployments/:id", s.handleDelete)
	router.GET("/health", s.handleHealth)
}

type registerRequest struct {
	DeploymentID   string         `json:"deployment_id" binding:"required"`
	DeploymentName string         `json:"deployment_name"`
	Host           string         `json:"host" binding:"required"`
	Port           int            `json:"port" binding:"required"`
	TTLSeconds     int            `json:"ttl_seconds"`
	WorkflowName   string         `json:"workflow_name"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Service) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, fmt.Sprintf("invalid register request: %v", err))
		return
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = DefaultTTLSeconds
	}

	lease := &storage.Deployment{
		DeploymentID:   req.DeploymentID,
		DeploymentName: req.DeploymentName,
		Host:           req.Host,
		Port:           req.Port,
		WorkflowName:   req.WorkflowName,
		Metadata:       req.Metadata,
		TTLSeconds:     req.TTLSeconds,
	}
	if err := s.repo.Upsert(c.Request.Context(), lease); err != nil {
		s.logger.Error("Register %s failed: %v", req.DeploymentID, err)
		abortError(c, http.StatusInternalServerError, "failed to register deployment")
		return
	}

	stored, err := s.repo.Get(c.Request.Context(), req.DeploymentID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "failed to load stored lease")
		return
	}
	s.metrics.IncRegistered()
	s.logger.Info("Registered deployment %s (%s:%d ttl=%ds)", req.DeploymentID, req.Host, req.Port, req.TTLSeconds)
	c.JSON(http.StatusOK, leaseResponse(stored, time.Now()))
}

func (s *Service) handleHeartbeat(c *gin.Context) {
	id := c.Param("id")
	heartbeat, err := s.repo.UpdateHeartbeat(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		abortError(c, http.StatusNotFound, fmt.Sprintf("deployment %q not registered", id))
		return
	}
	if err != nil {
		s.logger.Error("Heartbeat %s failed: %v", id, err)
		abortError(c, http.StatusInternalServerError, "failed to update heartbeat")
		return
	}
	s.metrics.IncHeartbeats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "last_heartbeat": heartbeat})
}

func (s *Service) handleList(c *gin.Context) {
	includeDead := c.Query("include_dead") == "true"
	leases, err := s.repo.ListAll(c.Request.Context(), includeDead)
	if err != nil {
		s.logger.Error("List deployments failed: %v", err)
		abortError(c, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	now := time.Now()
	out := make([]gin.H, 0, len(leases))
	for _, lease := range leases {
		out = append(out, leaseResponse(lease, now))
	}
	c.JSON(http.StatusOK, gin.H{"deployments": out, "count": len(out)})
}

func (s *Service) handleGet(c *gin.Context) {
	id := c.Param("id")
	lease, err := s.repo.Get(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		abortError(c, http.StatusNotFound, fmt.Sprintf("deployment %q not registered", id))
		return
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, "failed to load deployment")
		return
	}
	c.JSON(http.StatusOK, leaseResponse(lease, time.Now()))
}

func (s *Service) handleDelete(c *gin.Context) {
	id := c.Param("id")
	err := s.repo.Delete(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		abortError(c, http.StatusNotFound, fmt.Sprintf("deployment %q not registered", id))
		return
	}
	if err != nil {
		s.logger.Error("Delete %s failed: %v", id, err)
		abortError(c, http.StatusInternalServerError, "failed to delete deployment")
		return
	}
	s.logger.Info("Deregistered deployment %s", id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "deployment_id": id})
}

func (s *Service) handleHealth(c *gin.Context) {
	all, err := s.repo.ListAll(c.Request.Context(), true)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "failed to read lease table")
		return
	}
	now := time.Now()
	active := 0
	for _, lease := range all {
		if lease.IsAlive(now) {
			active++
		}
	}
	s.metrics.SetActiveLeases(active)
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "registered": len(all), "active": active})
}

func leaseResponse(d *storage.Deployment, now time.Time) gin.H {
	return gin.H{
		"deployment_id":   d.DeploymentID,
		"deployment_name": d.DeploymentName,
		"host":            d.Host,
		"port":            d.Port,
		"workflow_name":   d.WorkflowName,
		"metadata":        d.Metadata,
		"ttl_seconds":     d.TTLSeconds,
		"last_heartbeat":  d.LastHeartbeat,
		"registered_at":   d.RegisteredAt,
		"is_alive":        d.IsAlive(now),
	}
}

// abortError writes the error body with the request's correlation id.
func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":          message,
		"correlation_id": c.GetString(correlationKey),
	})
}

const correlationKey = "correlation_id"

// CorrelationMiddleware tags every request with a correlation id, echoed in
// the response header and in error bodies.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}
