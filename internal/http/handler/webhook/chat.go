package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/http/dto"
	"triagedesk.app/triage/internal/queue"
)

const chatSignatureHeader = "X-Chat-Signature"

// ChatWebhookHandler validates and enqueues chat event deliveries. The heavy
// work (thread fetch, grouping, store writes) happens on the sweeper side of
// the stream so the webhook can always answer inside the platform's delivery
// timeout.
type ChatWebhookHandler struct {
	signingSecret string
	producer      queue.Producer
}

func NewChatWebhookHandler(signingSecret string, producer queue.Producer) *ChatWebhookHandler {
	return &ChatWebhookHandler{
		signingSecret: signingSecret,
		producer:      producer,
	}
}

func (h *ChatWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !h.validSignature(c.GetHeader(chatSignatureHeader), body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var envelope dto.ChatEventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if envelope.Type == "url_verification" {
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return
	}
	if envelope.Type != "event_callback" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	payload, ok := payloadFromRaw(envelope.Event)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.producer.Enqueue(ctx, queue.TaskTypeChatEvent, payload); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue chat event",
			"error", err,
			"channel", payload.ChannelID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ChatWebhookHandler) validSignature(header string, body []byte) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}

func payloadFromRaw(raw dto.ChatRawEvent) (queue.ChatEventPayload, bool) {
	if raw.Type != "message" {
		return queue.ChatEventPayload{}, false
	}

	switch raw.SubType {
	case "":
		if raw.ThreadTS != "" && raw.ThreadTS != raw.TS {
			return queue.ChatEventPayload{
				Kind:      "reply",
				ChannelID: raw.Channel,
				ThreadTS:  raw.ThreadTS,
				TS:        raw.TS,
				AuthorID:  raw.User,
				BotID:     raw.BotID,
				Text:      raw.Text,
				PostedAt:  chat.TimestampTime(raw.TS),
			}, true
		}
		return queue.ChatEventPayload{
			Kind:      "root",
			ChannelID: raw.Channel,
			TS:        raw.TS,
			AuthorID:  raw.User,
			BotID:     raw.BotID,
			Text:      raw.Text,
			PostedAt:  chat.TimestampTime(raw.TS),
		}, true
	case "message_deleted":
		return queue.ChatEventPayload{
			Kind:      "deletion",
			ChannelID: raw.Channel,
			ThreadTS:  raw.DeletedTS,
		}, true
	default:
		return queue.ChatEventPayload{
			Kind:      "system",
			ChannelID: raw.Channel,
			SubType:   raw.SubType,
		}, true
	}
}
