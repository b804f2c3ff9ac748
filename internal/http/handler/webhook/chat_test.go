package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"triagedesk.app/triage/internal/http/handler/webhook"
	"triagedesk.app/triage/internal/queue"
)

type enqueued struct {
	taskType queue.TaskType
	payload  any
}

type mockProducer struct {
	tasks     []enqueued
	enqueueFn func(ctx context.Context, taskType queue.TaskType, payload any) error
}

func (m *mockProducer) Enqueue(ctx context.Context, taskType queue.TaskType, payload any) error {
	m.tasks = append(m.tasks, enqueued{taskType: taskType, payload: payload})
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, taskType, payload)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

const signingSecret = "test-signing-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("ChatWebhookHandler", func() {
	var (
		router   *gin.Engine
		producer *mockProducer
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		producer = &mockProducer{}
		handler := webhook.NewChatWebhookHandler(signingSecret, producer)
		router = gin.New()
		router.POST("/webhooks/chat", handler.HandleEvent)
	})

	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/chat", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set("X-Chat-Signature", signature)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	It("rejects a missing signature", func() {
		rec := post([]byte(`{"type":"event_callback"}`), "")

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("rejects a forged signature", func() {
		body := []byte(`{"type":"event_callback"}`)
		rec := post(body, sign([]byte("different body")))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers the url_verification handshake with the challenge", func() {
		body := []byte(`{"type":"url_verification","challenge":"c0ffee"}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["challenge"]).To(Equal("c0ffee"))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("enqueues a root message", func() {
		body := []byte(`{
			"type": "event_callback",
			"event": {
				"type": "message",
				"channel": "C1",
				"user": "U1",
				"text": "prod database is timing out",
				"ts": "1757500000.000100"
			}
		}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(producer.tasks).To(HaveLen(1))
		Expect(producer.tasks[0].taskType).To(Equal(queue.TaskTypeChatEvent))
		payload := producer.tasks[0].payload.(queue.ChatEventPayload)
		Expect(payload.Kind).To(Equal("root"))
		Expect(payload.ChannelID).To(Equal("C1"))
		Expect(payload.AuthorID).To(Equal("U1"))
	})

	It("classifies a threaded message as a reply", func() {
		body := []byte(`{
			"type": "event_callback",
			"event": {
				"type": "message",
				"channel": "C1",
				"user": "U2",
				"text": "same here",
				"ts": "1757500060.000200",
				"thread_ts": "1757500000.000100"
			}
		}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		payload := producer.tasks[0].payload.(queue.ChatEventPayload)
		Expect(payload.Kind).To(Equal("reply"))
		Expect(payload.ThreadTS).To(Equal("1757500000.000100"))
	})

	It("maps message_deleted onto the deleted thread", func() {
		body := []byte(`{
			"type": "event_callback",
			"event": {
				"type": "message",
				"subtype": "message_deleted",
				"channel": "C1",
				"ts": "1757500120.000300",
				"deleted_ts": "1757500000.000100"
			}
		}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		payload := producer.tasks[0].payload.(queue.ChatEventPayload)
		Expect(payload.Kind).To(Equal("deletion"))
		Expect(payload.ThreadTS).To(Equal("1757500000.000100"))
	})

	It("ignores non-message events without enqueueing", func() {
		body := []byte(`{
			"type": "event_callback",
			"event": {"type": "reaction_added", "channel": "C1"}
		}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("returns 500 when the queue is unavailable", func() {
		producer.enqueueFn = func(_ context.Context, _ queue.TaskType, _ any) error {
			return context.DeadlineExceeded
		}
		body := []byte(`{
			"type": "event_callback",
			"event": {"type": "message", "channel": "C1", "user": "U1", "text": "help", "ts": "1.0"}
		}`)
		rec := post(body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
