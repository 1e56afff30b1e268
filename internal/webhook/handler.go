// Package webhook receives order events pushed by the shop backend.
package webhook

import (
	"context"
	"crypto/subtle"
	"net/http"

	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/gateway"
	apperrors "whatsapp-automation/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"

	tokenHeader = "X-Webhook-Token"
)

// Orders is the notification side of the gateway.
type Orders interface {
	NotifyNewOrder(ctx context.Context, orderID string) error
	NotifyOrderStatus(ctx context.Context, orderID string, req gateway.OrderStatusRequest) ([]followup.ScheduleResult, error)
}

type Handler struct {
	token  string
	orders Orders
	log    *zap.Logger
}

func NewHandler(token string, orders Orders, log *zap.Logger) *Handler {
	return &Handler{
		token:  token,
		orders: orders,
		log:    log.With(zap.String("component", "webhook")),
	}
}

// VerifyWebhook answers the subscription handshake by echoing the challenge.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || !h.valid(token) {
		c.Status(http.StatusForbidden)
		return
	}
	h.log.Info("Webhook verified")
	c.String(http.StatusOK, challenge)
}

type OrderEvent struct {
	Event   string `json:"event" binding:"required"`
	OrderID string `json:"order_id" binding:"required"`
	Status  string `json:"status"`
}

func (h *Handler) HandleOrderEvent(c *gin.Context) {
	if !h.valid(c.GetHeader(tokenHeader)) {
		c.Status(http.StatusUnauthorized)
		return
	}
	var ev OrderEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.log.Warn("Invalid webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log := h.log.With(zap.String("event", ev.Event), zap.String("order", ev.OrderID))

	switch ev.Event {
	case EventOrderCreated:
		if err := h.orders.NotifyNewOrder(c.Request.Context(), ev.OrderID); err != nil {
			log.Error("Order notification failed", zap.Error(err))
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "notified"})
	case EventOrderStatusChanged:
		results, err := h.orders.NotifyOrderStatus(c.Request.Context(), ev.OrderID, gateway.OrderStatusRequest{Status: ev.Status})
		if err != nil {
			log.Error("Order status notification failed", zap.Error(err))
			h.fail(c, err)
			return
		}
		log.Info("Order status notified", zap.Int("followups", len(results)))
		c.JSON(http.StatusOK, gin.H{"status": "notified", "followups": results})
	default:
		// unknown events are acknowledged so the sender does not retry them
		log.Debug("Ignoring webhook event")
		c.Status(http.StatusOK)
	}
}

func (h *Handler) valid(token string) bool {
	if h.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if def, ok := apperrors.From(err); ok {
		switch def.Code {
		case apperrors.InvalidInput.Code:
			status = http.StatusBadRequest
		case apperrors.OrderNotFound.Code:
			status = http.StatusNotFound
		case apperrors.NotConnected.Code:
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

var _ Orders = (*gateway.Gateway)(nil)
