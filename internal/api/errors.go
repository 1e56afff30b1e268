package api

import (
	"net/http"
	"strconv"

	apperrors "whatsapp-automation/pkg/errors"

	"github.com/gin-gonic/gin"
)

var statusByCode = map[string]int{
	apperrors.NotConnected.Code:         http.StatusConflict,
	apperrors.AlreadyConnected.Code:     http.StatusConflict,
	apperrors.ConnectionInProgress.Code: http.StatusConflict,
	apperrors.CredentialsInvalid.Code:   http.StatusConflict,
	apperrors.PairingFailed.Code:        http.StatusBadGateway,
	apperrors.DeliveryFailed.Code:       http.StatusBadGateway,
	apperrors.TransientDisconnect.Code:  http.StatusServiceUnavailable,
	apperrors.InvalidSchedule.Code:      http.StatusBadRequest,
	apperrors.InvalidInput.Code:         http.StatusBadRequest,
	apperrors.TemplateInactive.Code:     http.StatusUnprocessableEntity,
	apperrors.ScheduleNotFound.Code:     http.StatusNotFound,
	apperrors.TemplateNotFound.Code:     http.StatusNotFound,
	apperrors.FollowUpNotFound.Code:     http.StatusNotFound,
	apperrors.RuleNotFound.Code:         http.StatusNotFound,
	apperrors.ContactNotFound.Code:      http.StatusNotFound,
	apperrors.GroupNotFound.Code:        http.StatusNotFound,
	apperrors.OrderNotFound.Code:        http.StatusNotFound,
}

// respondError writes err with the HTTP status of its code. Errors without
// a code are internal.
func respondError(c *gin.Context, err error) {
	def, ok := apperrors.From(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status, ok := statusByCode[def.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": def.Code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.InvalidInput.Code})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

func queryBool(c *gin.Context, key string) *bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return nil
	}
	return &v
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, err)
		return 0, false
	}
	return uint(id), true
}
