package contacts

import (
	"time"

	"whatsapp-automation/internal/models"
)

const (
	DefaultVIPThreshold = 50000
	vipOrderCount       = 5
	inactiveAfterDays   = 30
	// a contact with orders but no recorded date counts as long inactive
	missingOrderDays = 999
)

// ComputeSegment classifies c at now. Precedence is fixed: blocked,
// prospect, new, VIP, inactive, regular.
func ComputeSegment(c models.Contact, now time.Time, vipThreshold float64) models.Segment {
	switch {
	case c.IsBlocked:
		return models.SegmentBlocked
	case c.TotalOrders <= 0:
		return models.SegmentProspect
	case c.TotalOrders == 1:
		return models.SegmentNew
	case c.TotalOrders >= vipOrderCount || c.TotalSpent >= vipThreshold:
		return models.SegmentVIP
	case daysSince(c.LastOrderAt, now) > inactiveAfterDays:
		return models.SegmentInactive
	default:
		return models.SegmentRegular
	}
}

func daysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return missingOrderDays
	}
	return int(now.Sub(*t).Hours() / 24)
}
