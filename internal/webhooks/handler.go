package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	werrors "weave/internal/errors"
	"weave/internal/logging"
	"weave/internal/storage"
)

// Launcher starts a workflow execution in the background and returns its id.
type Launcher interface {
	Launch(ctx context.Context, workflowName string, inputs map[string]any) (string, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, workflowName string, inputs map[string]any) (string, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, workflowName string, inputs map[string]any) (string, error) {
	return f(ctx, workflowName, inputs)
}

// Config parameterizes the ingress.
type Config struct {
	Secret string
	// RequireSignature rejects unsigned requests even when a Secret alone
	// would make verification optional.
	RequireSignature bool
}

// Handler serves the generic webhook surface.
type Handler struct {
	cfg      Config
	launcher Launcher
	events   storage.WebhookEventRepository
	logger   logging.Logger
	// platforms lists mounted platform handlers for the health summary.
	platforms []string
}

// NewHandler builds the ingress.
func NewHandler(cfg Config, launcher Launcher, events storage.WebhookEventRepository, logger logging.Logger) (*Handler, error) {
	if launcher == nil {
		return nil, fmt.Errorf("workflow launcher required")
	}
	if events == nil {
		return nil, fmt.Errorf("webhook event repository required")
	}
	return &Handler{
		cfg:      cfg,
		launcher: launcher,
		events:   events,
		logger:   logging.OrNop(logger),
	}, nil
}

// RegisterRoutes mounts the generic endpoints.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/generic", h.handleGeneric)
	router.GET("/webhooks/health", h.handleHealth)
}

type genericRequest struct {
	WorkflowName string         `json:"workflow_name"`
	Inputs       map[string]any `json:"inputs"`
	WebhookID    string         `json:"webhook_id"`
}

func (h *Handler) handleGeneric(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, &werrors.WebhookError{Provider: "generic", Err: err})
		return
	}

	if h.signatureRequired() {
		header := c.GetHeader(SignatureHeader)
		if header == "" || !VerifySignature(h.cfg.Secret, body, header) {
			writeError(c, &werrors.InvalidSignatureError{Provider: "generic"})
			return
		}
	}

	var req genericRequest
	if err := json.Unmarshal(body, &req); err != nil || req.WorkflowName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON with workflow_name"})
		return
	}

	if req.WebhookID != "" {
		// Mark before invoking so a racing duplicate loses on the unique key.
		err := h.events.MarkProcessed(c.Request.Context(), req.WebhookID, "generic")
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(c, &werrors.ReplayAttackError{WebhookID: req.WebhookID})
			return
		}
		if err != nil {
			h.logger.Error("Idempotency check failed for %s: %v", req.WebhookID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency check failed"})
			return
		}
	}

	executionID, err := h.launcher.Launch(c.Request.Context(), req.WorkflowName, req.Inputs)
	if err != nil {
		h.logger.Error("Webhook launch of %s failed: %v", req.WorkflowName, err)
		writeError(c, &werrors.WebhookError{Provider: "generic", Err: err})
		return
	}

	h.logger.Info("Webhook accepted: workflow=%s execution=%s", req.WorkflowName, executionID)
	c.JSON(http.StatusOK, gin.H{
		"status":        "accepted",
		"workflow_name": req.WorkflowName,
		"execution_id":  executionID,
		"webhook_id":    req.WebhookID,
	})
}

// AddPlatform records a mounted platform handler for the health summary.
func (h *Handler) AddPlatform(name string) {
	h.platforms = append(h.platforms, name)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"signature_required": h.signatureRequired(),
		"platforms":          h.platforms,
	})
}

func (h *Handler) signatureRequired() bool {
	return h.cfg.RequireSignature || h.cfg.Secret != ""
}

// writeError maps the webhook error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var sigErr *werrors.InvalidSignatureError
	var replayErr *werrors.ReplayAttackError
	switch {
	case errors.As(err, &sigErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &replayErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "webhook_id": replayErr.WebhookID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
