package api

import (
	"net/http"
	"time"

	"whatsapp-automation/internal/gateway"

	"github.com/gin-gonic/gin"
)

// DashboardHandler serves aggregate reads and order notifications.
type DashboardHandler struct {
	Gateway *gateway.Gateway
}

func NewDashboardHandler(gw *gateway.Gateway) *DashboardHandler {
	return &DashboardHandler{Gateway: gw}
}

func (h *DashboardHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	msgStats, err := h.Gateway.Messages.Stats(ctx, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	contactStats, err := h.Gateway.Contacts.Stats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	scheduleStats, err := h.Gateway.Scheduler.Stats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	followUpStats, err := h.Gateway.FollowUps.Stats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":   h.Gateway.Status(),
		"messages":  msgStats,
		"contacts":  contactStats,
		"schedules": scheduleStats,
		"followups": followUpStats,
	})
}

func (h *DashboardHandler) SearchMessages(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	found, err := h.Gateway.Messages.Search(c.Request.Context(), q, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *DashboardHandler) NotifyNewOrder(c *gin.Context) {
	if err := h.Gateway.NotifyNewOrder(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Notification sent"})
}

func (h *DashboardHandler) NotifyOrderStatus(c *gin.Context) {
	var req gateway.OrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.Gateway.NotifyOrderStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Notification sent", "followups": results})
}
