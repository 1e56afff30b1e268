package api

import (
	"net/http"

	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/models"

	"github.com/gin-gonic/gin"
)

// AutomationHandler covers auto-reply rules and follow-ups.
type AutomationHandler struct {
	Gateway *gateway.Gateway
}

func NewAutomationHandler(gw *gateway.Gateway) *AutomationHandler {
	return &AutomationHandler{Gateway: gw}
}

// GetRules returns all auto-reply rules in evaluation order
func (h *AutomationHandler) GetRules(c *gin.Context) {
	rules, err := h.Gateway.Replies.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req gateway.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ID = 0
	rule, err := h.Gateway.UpsertAutoReplyRule(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req gateway.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ID = id
	rule, err := h.Gateway.UpsertAutoReplyRule(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Gateway.Replies.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	rule, err := h.Gateway.Replies.Toggle(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) RuleStats(c *gin.Context) {
	stats, err := h.Gateway.Replies.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type TemplateRequest struct {
	Name         string             `json:"name" binding:"required"`
	Description  string             `json:"description"`
	Trigger      models.Trigger     `json:"trigger" binding:"required"`
	DelayDays    int                `json:"delay_days"`
	DelayHours   int                `json:"delay_hours"`
	DelayMinutes int                `json:"delay_minutes"`
	Message      string             `json:"message" binding:"required"`
	MediaURL     string             `json:"media_url"`
	MediaType    models.MessageKind `json:"media_type"`
	IsActive     *bool              `json:"is_active"`
	Priority     int                `json:"priority"`
}

func (r TemplateRequest) input() followup.TemplateInput {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return followup.TemplateInput{
		Name:         r.Name,
		Description:  r.Description,
		Trigger:      r.Trigger,
		DelayDays:    r.DelayDays,
		DelayHours:   r.DelayHours,
		DelayMinutes: r.DelayMinutes,
		Message:      r.Message,
		MediaURL:     r.MediaURL,
		MediaType:    r.MediaType,
		IsActive:     active,
		Priority:     r.Priority,
	}
}

func (h *AutomationHandler) GetTemplates(c *gin.Context) {
	list, err := h.Gateway.FollowUps.ListTemplates(c.Request.Context(), models.Trigger(c.Query("trigger")), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AutomationHandler) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.Gateway.FollowUps.CreateTemplate(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *AutomationHandler) UpdateTemplate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.Gateway.FollowUps.UpdateTemplate(c.Request.Context(), id, req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *AutomationHandler) DeleteTemplate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Gateway.FollowUps.DeleteTemplate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted successfully"})
}

func (h *AutomationHandler) ToggleTemplate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	tpl, err := h.Gateway.FollowUps.ToggleTemplate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *AutomationHandler) TriggerFollowUps(c *gin.Context) {
	var req gateway.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.Gateway.TriggerFollowUps(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *AutomationHandler) CancelFollowUp(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Gateway.FollowUps.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Follow-up cancelled"})
}

func (h *AutomationHandler) CancelContactFollowUps(c *gin.Context) {
	n, err := h.Gateway.FollowUps.CancelAllForContact(c.Request.Context(), c.Param("jid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (h *AutomationHandler) FollowUpStats(c *gin.Context) {
	stats, err := h.Gateway.FollowUps.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
