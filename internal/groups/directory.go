package groups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Session is the part of the connection manager groups need.
type Session interface {
	Groups(ctx context.Context) ([]whatsapp.GroupInfo, error)
	Send(ctx context.Context, to string, p whatsapp.Payload) error
}

// Directory mirrors joined groups locally so broadcasts can target the
// active subset.
type Directory struct {
	db      *gorm.DB
	session Session
	delay   time.Duration
	log     *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDirectory(db *gorm.DB, session Session, delay time.Duration, log *zap.Logger) *Directory {
	return &Directory{
		db:      db,
		session: session,
		delay:   delay,
		log:     log.With(zap.String("component", "groups")),
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Sync upserts every joined group. New groups start active; the active
// flag of known groups is preserved.
func (d *Directory) Sync(ctx context.Context) (int, error) {
	joined, err := d.session.Groups(ctx)
	if err != nil {
		return 0, err
	}
	now := d.now().UTC()
	for _, g := range joined {
		row := models.Group{
			JID:               g.JID,
			Name:              g.Name,
			Description:       g.Description,
			ParticipantsCount: g.Participants,
			IsActive:          true,
			LastSyncAt:        now,
		}
		err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "jid"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "participants_count", "last_sync_at", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return 0, fmt.Errorf("sync group %s: %w", g.JID, err)
		}
	}
	d.log.Info("Groups synced", zap.Int("count", len(joined)))
	return len(joined), nil
}

func (d *Directory) List(ctx context.Context, activeOnly bool) ([]models.Group, error) {
	q := d.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var groups []models.Group
	err := q.Find(&groups).Error
	return groups, err
}

func (d *Directory) SetActive(ctx context.Context, jid string, active bool) (*models.Group, error) {
	res := d.db.WithContext(ctx).Model(&models.Group{}).Where("jid = ?", jid).Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.GroupNotFound
	}
	var g models.Group
	if err := d.db.WithContext(ctx).Where("jid = ?", jid).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

type BroadcastResult struct {
	GroupJID string `json:"group_jid"`
	Name     string `json:"name"`
	Error    string `json:"error,omitempty"`
}

// BroadcastToActive sends the same payload to every active group, one at
// a time. A failed group does not stop the others.
func (d *Directory) BroadcastToActive(ctx context.Context, p whatsapp.Payload) ([]BroadcastResult, error) {
	groups, err := d.List(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, apperrors.GroupNotFound.Wrap(errors.New("no active groups"))
	}
	results := make([]BroadcastResult, 0, len(groups))
	for i, g := range groups {
		res := BroadcastResult{GroupJID: g.JID, Name: g.Name}
		if err := d.session.Send(ctx, g.JID, p); err != nil {
			res.Error = err.Error()
			d.log.Warn("Group broadcast failed", zap.String("group", g.JID), zap.Error(err))
		}
		results = append(results, res)
		if i < len(groups)-1 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}
