package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/models"

	"github.com/gin-gonic/gin"
)

type ContactHandler struct {
	Gateway *gateway.Gateway
}

func NewContactHandler(gw *gateway.Gateway) *ContactHandler {
	return &ContactHandler{Gateway: gw}
}

func (h *ContactHandler) filter(c *gin.Context) contacts.ListFilter {
	return contacts.ListFilter{
		Segment:    models.Segment(strings.ToUpper(c.Query("segment"))),
		IsFavorite: queryBool(c, "favorite"),
		IsBlocked:  queryBool(c, "blocked"),
		Search:     c.Query("search"),
		Tag:        c.Query("tag"),
		Limit:      queryInt(c, "limit", 100),
		Offset:     queryInt(c, "offset", 0),
	}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	list, total, err := h.Gateway.Contacts.List(c.Request.Context(), h.filter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": total})
}

func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, err := h.Gateway.Contacts.Get(c.Request.Context(), c.Param("jid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

type UpdateContactRequest struct {
	Name       *string `json:"name"`
	Notes      *string `json:"notes"`
	IsBlocked  *bool   `json:"is_blocked"`
	IsFavorite *bool   `json:"is_favorite"`
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	contact, err := h.Gateway.Contacts.Update(c.Request.Context(), c.Param("jid"), contacts.UpdateInput{
		Name:       req.Name,
		Notes:      req.Notes,
		IsBlocked:  req.IsBlocked,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

type TagsRequest struct {
	Tags []string `json:"tags" binding:"required,min=1"`
}

func (h *ContactHandler) AddTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	contact, err := h.Gateway.Contacts.AddTags(c.Request.Context(), c.Param("jid"), req.Tags)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) RemoveTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	contact, err := h.Gateway.Contacts.RemoveTags(c.Request.Context(), c.Param("jid"), req.Tags)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) Messages(c *gin.Context) {
	history, err := h.Gateway.Messages.History(c.Request.Context(), c.Param("jid"), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ContactHandler) FollowUps(c *gin.Context) {
	list, err := h.Gateway.FollowUps.ContactFollowUps(c.Request.Context(), c.Param("jid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ContactHandler) Stats(c *gin.Context) {
	stats, err := h.Gateway.Contacts.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ContactHandler) RecalculateSegments(c *gin.Context) {
	n, err := h.Gateway.Contacts.RecalculateAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	f := h.filter(c)
	f.Limit = 500
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"JID", "Phone", "Name", "Segment", "Total Orders", "Total Spent", "Tags", "Last Message At"})
	for {
		list, _, err := h.Gateway.Contacts.List(c.Request.Context(), f)
		if err != nil {
			c.Error(err)
			break
		}
		for _, ct := range list {
			w.Write([]string{
				ct.JID,
				ct.Phone,
				ct.DisplayName(),
				string(ct.Segment),
				strconv.Itoa(ct.TotalOrders),
				strconv.FormatFloat(ct.TotalSpent, 'f', -1, 64),
				strings.Join(ct.Tags, ";"),
				ct.LastMessageAt.Format(time.RFC3339),
			})
		}
		if len(list) < f.Limit {
			break
		}
		f.Offset += len(list)
	}
	w.Flush()
}
