package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	werrors "weave/internal/errors"
	"weave/internal/logging"
)

// LarkMessageLimit is the platform's per-message length cap in runes.
const LarkMessageLimit = 2000

// Replier sends a text message back to the platform chat.
type Replier interface {
	Reply(ctx context.Context, chatID, text string) error
}

// LarkConfig parameterizes the lark handler.
type LarkConfig struct {
	// VerificationToken, when set, must match the token in every envelope.
	VerificationToken string
}

// LarkHandler implements the lark subscribe/receive protocol: challenge
// verification plus text-message events carrying "/workflow_name rest"
// commands.
type LarkHandler struct {
	cfg      LarkConfig
	launcher Launcher
	replier  Replier
	logger   logging.Logger
}

// NewLarkHandler builds the lark platform handler; replier may be nil when
// replies are not wired.
func NewLarkHandler(cfg LarkConfig, launcher Launcher, replier Replier, logger logging.Logger) (*LarkHandler, error) {
	if launcher == nil {
		return nil, fmt.Errorf("workflow launcher required")
	}
	return &LarkHandler{
		cfg:      cfg,
		launcher: launcher,
		replier:  replier,
		logger:   logging.OrNop(logger),
	}, nil
}

// RegisterRoutes mounts the lark endpoint.
func (h *LarkHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/lark", h.handleEvent)
}

type larkEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Header    struct {
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			ChatID      string `json:"chat_id"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

func (h *LarkHandler) handleEvent(c *gin.Context) {
	var envelope larkEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lark envelope"})
		return
	}

	if envelope.Type == "url_verification" {
		if !h.tokenValid(envelope.Token) {
			writeError(c, &werrors.InvalidSignatureError{Provider: "lark"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return
	}

	if !h.tokenValid(envelope.Header.Token) {
		writeError(c, &werrors.InvalidSignatureError{Provider: "lark"})
		return
	}
	if envelope.Header.EventType != "im.message.receive_v1" ||
		envelope.Event.Message.MessageType != "text" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	text, err := larkMessageText(envelope.Event.Message.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable message content"})
		return
	}
	workflowName, rest, err := ParseCommand(text)
	if err != nil {
		h.reply(c.Request.Context(), envelope.Event.Message.ChatID,
			fmt.Sprintf("Could not parse command: %v", err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	sender := envelope.Event.Sender.SenderID.OpenID
	executionID, err := h.launcher.Launch(c.Request.Context(), workflowName, map[string]any{
		"text":   rest,
		"sender": sender,
	})
	if err != nil {
		h.logger.Error("Lark launch of %s failed: %v", workflowName, err)
		h.reply(c.Request.Context(), envelope.Event.Message.ChatID,
			fmt.Sprintf("Failed to start %s: %v", workflowName, err))
		writeError(c, &werrors.WebhookError{Provider: "lark", Err: err})
		return
	}

	h.reply(c.Request.Context(), envelope.Event.Message.ChatID,
		fmt.Sprintf("Started %s (execution %s)", workflowName, executionID))
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "execution_id": executionID})
}

func (h *LarkHandler) tokenValid(token string) bool {
	return h.cfg.VerificationToken == "" || token == h.cfg.VerificationToken
}

// reply sends chunked text back to the chat, best effort.
func (h *LarkHandler) reply(ctx context.Context, chatID, text string) {
	if h.replier == nil || chatID == "" {
		return
	}
	for _, chunk := range ChunkText(text, LarkMessageLimit) {
		if err := h.replier.Reply(ctx, chatID, chunk); err != nil {
			h.logger.Warn("Lark reply failed: %v", err)
			return
		}
	}
}

// larkMessageText pulls the text field out of a lark content payload.
func larkMessageText(content string) (string, error) {
	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return "", err
	}
	return decoded.Text, nil
}

// ParseCommand splits "/workflow_name rest of the text" into its parts.
func ParseCommand(text string) (workflowName, rest string, err error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", fmt.Errorf("commands start with /")
	}
	trimmed = strings.TrimPrefix(trimmed, "/")
	name, rest, _ := strings.Cut(trimmed, " ")
	if name == "" {
		return "", "", fmt.Errorf("missing workflow name")
	}
	return name, strings.TrimSpace(rest), nil
}

// ChunkText splits text into rune-bounded chunks.
func ChunkText(text string, limit int) []string {
	if limit <= 0 || text == "" {
		return []string{text}
	}
	runes := []rune(text)
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(out, string(runes))
}
