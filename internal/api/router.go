package api

import (
	"fmt"
	"net/http"
	"time"

	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/webhook"
	"whatsapp-automation/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	// Hub serves /ws when set.
	Hub *ws.Hub
	// WebhookToken enables the order webhook when set.
	WebhookToken string
}

// NewRouter builds the admin HTTP surface.
func NewRouter(gw *gateway.Gateway, opts Options, log *zap.Logger) *gin.Engine {
	log = log.With(zap.String("component", "api"))

	r := gin.New()
	r.Use(recoverMiddleware(log), requestLogger(log), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session": gw.Status().State})
	})
	if opts.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			opts.Hub.ServeWs(c.Writer, c.Request)
		})
	}
	if opts.WebhookToken != "" {
		webhookHandler := webhook.NewHandler(opts.WebhookToken, gw, log)
		r.GET("/webhook", webhookHandler.VerifyWebhook)
		r.POST("/webhook/orders", webhookHandler.HandleOrderEvent)
	}

	whatsappHandler := NewWhatsAppHandler(gw)
	scheduleHandler := NewScheduleHandler(gw)
	contactHandler := NewContactHandler(gw)
	automationHandler := NewAutomationHandler(gw)
	dashboardHandler := NewDashboardHandler(gw)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/dashboard", dashboardHandler.Overview)
		apiGroup.GET("/messages/search", dashboardHandler.SearchMessages)
		apiGroup.POST("/orders/:id/notify", dashboardHandler.NotifyNewOrder)
		apiGroup.POST("/orders/:id/status", dashboardHandler.NotifyOrderStatus)

		whatsappGroup := apiGroup.Group("/whatsapp")
		{
			whatsappGroup.POST("/connect", whatsappHandler.Connect)
			whatsappGroup.GET("/status", whatsappHandler.Status)
			whatsappGroup.POST("/disconnect", whatsappHandler.Disconnect)
			whatsappGroup.POST("/send", whatsappHandler.SendMessage)
			whatsappGroup.POST("/send/bulk", whatsappHandler.SendBulk)
			whatsappGroup.POST("/send/media", whatsappHandler.SendMedia)
			whatsappGroup.POST("/status", whatsappHandler.SendStatus)

			whatsappGroup.GET("/groups", whatsappHandler.ListGroups)
			whatsappGroup.POST("/groups/sync", whatsappHandler.SyncGroups)
			whatsappGroup.PUT("/groups/:jid", whatsappHandler.SetGroupActive)
			whatsappGroup.POST("/groups/broadcast", whatsappHandler.BroadcastToGroups)
		}

		scheduleGroup := apiGroup.Group("/schedules")
		{
			scheduleGroup.POST("", scheduleHandler.Create)
			scheduleGroup.GET("", scheduleHandler.History)
			scheduleGroup.GET("/pending", scheduleHandler.Pending)
			scheduleGroup.GET("/stats", scheduleHandler.Stats)
			scheduleGroup.GET("/:id", scheduleHandler.Get)
			scheduleGroup.DELETE("/:id", scheduleHandler.Cancel)
		}
		apiGroup.POST("/workers/:name/run", scheduleHandler.RunWorker)

		contactGroup := apiGroup.Group("/contacts")
		{
			contactGroup.GET("", contactHandler.GetContacts)
			contactGroup.GET("/stats", contactHandler.Stats)
			contactGroup.GET("/export", contactHandler.ExportContacts)
			contactGroup.POST("/segments/recalculate", contactHandler.RecalculateSegments)
			contactGroup.GET("/:jid", contactHandler.GetContact)
			contactGroup.PUT("/:jid", contactHandler.UpdateContact)
			contactGroup.POST("/:jid/tags", contactHandler.AddTags)
			contactGroup.DELETE("/:jid/tags", contactHandler.RemoveTags)
			contactGroup.GET("/:jid/messages", contactHandler.Messages)
			contactGroup.GET("/:jid/followups", contactHandler.FollowUps)
			contactGroup.DELETE("/:jid/followups", automationHandler.CancelContactFollowUps)
		}

		automationGroup := apiGroup.Group("/automation")
		{
			automationGroup.GET("/rules", automationHandler.GetRules)
			automationGroup.POST("/rules", automationHandler.CreateRule)
			automationGroup.GET("/rules/stats", automationHandler.RuleStats)
			automationGroup.PUT("/rules/:id", automationHandler.UpdateRule)
			automationGroup.DELETE("/rules/:id", automationHandler.DeleteRule)
			automationGroup.POST("/rules/:id/toggle", automationHandler.ToggleRule)

			automationGroup.GET("/templates", automationHandler.GetTemplates)
			automationGroup.POST("/templates", automationHandler.CreateTemplate)
			automationGroup.PUT("/templates/:id", automationHandler.UpdateTemplate)
			automationGroup.DELETE("/templates/:id", automationHandler.DeleteTemplate)
			automationGroup.POST("/templates/:id/toggle", automationHandler.ToggleTemplate)

			automationGroup.POST("/followups/trigger", automationHandler.TriggerFollowUps)
			automationGroup.GET("/followups/stats", automationHandler.FollowUpStats)
			automationGroup.DELETE("/followups/:id", automationHandler.CancelFollowUp)
		}
	}
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("Request failed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("Request rejected", fields...)
		default:
			log.Debug("Request served", fields...)
		}
	}
}

func recoverMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Handler panic",
					zap.String("path", c.Request.URL.Path),
					zap.String("panic", fmt.Sprint(r)),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "INTERNAL_SERVER_ERROR"})
			}
		}()
		c.Next()
	}
}
