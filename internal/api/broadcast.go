package api

import (
	"net/http"

	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// ScheduleHandler manages scheduled messages.
type ScheduleHandler struct {
	Gateway *gateway.Gateway
}

func NewScheduleHandler(gw *gateway.Gateway) *ScheduleHandler {
	return &ScheduleHandler{Gateway: gw}
}

func (h *ScheduleHandler) Create(c *gin.Context) {
	var req gateway.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.Gateway.Schedule(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *ScheduleHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	item, err := h.Gateway.Scheduler.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ScheduleHandler) Cancel(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	item, err := h.Gateway.CancelSchedule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ScheduleHandler) Pending(c *gin.Context) {
	items, err := h.Gateway.Scheduler.AllPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *ScheduleHandler) History(c *gin.Context) {
	items, total, err := h.Gateway.Scheduler.History(c.Request.Context(), scheduler.HistoryFilter{
		Status: models.ScheduleStatus(c.Query("status")),
		Kind:   models.MessageKind(c.Query("type")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *ScheduleHandler) Stats(c *gin.Context) {
	stats, err := h.Gateway.Scheduler.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RunWorker triggers one tick of the named worker now.
func (h *ScheduleHandler) RunWorker(c *gin.Context) {
	ran, err := h.Gateway.RunWorker(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !ran {
		c.JSON(http.StatusAccepted, gin.H{"status": "Worker already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Worker tick completed"})
}
