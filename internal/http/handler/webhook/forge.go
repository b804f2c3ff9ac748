package webhook

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"triagedesk.app/triage/internal/http/dto"
	"triagedesk.app/triage/internal/queue"
)

const forgeTokenHeader = "X-Gitlab-Token"

// ForgeWebhookHandler accepts issue and merge-request hooks. Only the
// "open" action is triaged; the consumer refetches full detail from the
// forge API, so redeliveries are harmless.
type ForgeWebhookHandler struct {
	webhookSecret string
	producer      queue.Producer
}

func NewForgeWebhookHandler(webhookSecret string, producer queue.Producer) *ForgeWebhookHandler {
	return &ForgeWebhookHandler{
		webhookSecret: webhookSecret,
		producer:      producer,
	}
}

func (h *ForgeWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.GetHeader(forgeTokenHeader)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	var payload dto.ForgeWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if payload.ObjectKind != "issue" && payload.ObjectKind != "merge_request" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if payload.ObjectAttributes.Action != "open" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	task := queue.IssueOpenedPayload{
		ProjectPath: payload.Project.PathWithNamespace,
		Number:      payload.ObjectAttributes.IID,
	}
	if err := h.producer.Enqueue(ctx, queue.TaskTypeIssueOpened, task); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue forge event",
			"error", err,
			"project", task.ProjectPath,
			"number", task.Number)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
