package router

import (
	"github.com/gin-gonic/gin"

	"triagedesk.app/triage/internal/http/handler"
	"triagedesk.app/triage/internal/http/handler/webhook"
	"triagedesk.app/triage/internal/metrics"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/queue"
	"triagedesk.app/triage/internal/service"
)

type RouterConfig struct {
	ChatSigningSecret  string
	ForgeWebhookSecret string
}

func SetupRoutes(router *gin.Engine, services *service.Services, stores service.StoreProvider, projects *project.Service, producer queue.Producer, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	hooks := router.Group("/webhooks")
	{
		chatHandler := webhook.NewChatWebhookHandler(cfg.ChatSigningSecret, producer)
		hooks.POST("/chat", chatHandler.HandleEvent)

		forgeHandler := webhook.NewForgeWebhookHandler(cfg.ForgeWebhookSecret, producer)
		hooks.POST("/forge", forgeHandler.HandleEvent)
	}

	v1 := router.Group("/api/v1")
	{
		commandHandler := handler.NewCommandHandler(services.Lifecycle, services.Identity, stores, projects)
		v1.POST("/commands", commandHandler.Handle)
	}
}
