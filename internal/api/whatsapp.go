package api

import (
	"io"
	"net/http"

	"whatsapp-automation/internal/gateway"

	"github.com/gin-gonic/gin"
)

// WhatsAppHandler covers the session and direct sends.
type WhatsAppHandler struct {
	Gateway *gateway.Gateway
}

func NewWhatsAppHandler(gw *gateway.Gateway) *WhatsAppHandler {
	return &WhatsAppHandler{Gateway: gw}
}

func (h *WhatsAppHandler) Connect(c *gin.Context) {
	var req gateway.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.Gateway.Connect(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WhatsAppHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Gateway.Status())
}

func (h *WhatsAppHandler) Disconnect(c *gin.Context) {
	if err := h.Gateway.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Disconnected"})
}

func (h *WhatsAppHandler) SendMessage(c *gin.Context) {
	var req gateway.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Gateway.Send(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Message sent"})
}

func (h *WhatsAppHandler) SendBulk(c *gin.Context) {
	var req gateway.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.Gateway.SendBulk(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent, "failed": len(results) - sent, "results": results})
}

// SendMedia accepts either JSON with a url or a multipart upload in "file".
func (h *WhatsAppHandler) SendMedia(c *gin.Context) {
	var req gateway.MediaRequest
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}
		req = gateway.MediaRequest{
			To:      c.PostForm("to"),
			Kind:    c.PostForm("kind"),
			Caption: c.PostForm("caption"),
			Data:    data,
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Gateway.SendMedia(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Media sent"})
}

func (h *WhatsAppHandler) SendStatus(c *gin.Context) {
	var req gateway.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Gateway.SendStatus(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Status posted"})
}

func (h *WhatsAppHandler) ListGroups(c *gin.Context) {
	groups, err := h.Gateway.Groups.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *WhatsAppHandler) SyncGroups(c *gin.Context) {
	n, err := h.Gateway.Groups.Sync(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": n})
}

func (h *WhatsAppHandler) SetGroupActive(c *gin.Context) {
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	group, err := h.Gateway.Groups.SetActive(c.Request.Context(), c.Param("jid"), req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *WhatsAppHandler) BroadcastToGroups(c *gin.Context) {
	var req gateway.GroupBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.Gateway.BroadcastToGroups(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
