package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CancelReason is recorded on recipients and schedules cancelled by an operator.
const CancelReason = "cancelled by user"

// Service persists scheduled messages and their per-recipient state.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With(zap.String("component", "scheduler")),
		now: time.Now,
	}
}

type RecipientInput struct {
	Recipient string               `json:"recipient"`
	Type      models.RecipientType `json:"type"`
}

type ScheduleRequest struct {
	Message    string
	MediaURL   string
	Kind       models.MessageKind
	At         time.Time
	Recipients []RecipientInput
}

func (r ScheduleRequest) validate(now time.Time) error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.InvalidSchedule.Wrap(fmt.Errorf(format, args...))
	}
	switch r.Kind {
	case models.KindText, models.KindImage, models.KindVideo, models.KindStatus:
	default:
		return invalid("unknown message kind %q", r.Kind)
	}
	if !r.At.After(now) {
		return invalid("scheduled time %s is not in the future", r.At.Format(time.RFC3339))
	}
	if r.Kind == models.KindStatus && len(r.Recipients) > 0 {
		return invalid("status broadcasts take no recipients")
	}
	if r.Kind != models.KindStatus && len(r.Recipients) == 0 {
		return invalid("at least one recipient is required")
	}
	if (r.Kind == models.KindImage || r.Kind == models.KindVideo) && r.MediaURL == "" {
		return invalid("%s messages need a media url", strings.ToLower(string(r.Kind)))
	}
	if r.Kind == models.KindText && strings.TrimSpace(r.Message) == "" {
		return invalid("message is empty")
	}
	return nil
}

func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*models.ScheduledMessage, error) {
	if err := req.validate(s.now()); err != nil {
		return nil, err
	}

	recipients := make([]models.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		jid, err := whatsapp.NormalizeJID(r.Recipient)
		if err != nil {
			return nil, apperrors.InvalidSchedule.Wrap(err)
		}
		kind := r.Type
		if kind == "" {
			kind = models.RecipientIndividual
			if whatsapp.IsGroupJID(jid) {
				kind = models.RecipientGroup
			}
		}
		recipients = append(recipients, models.Recipient{
			Recipient: jid,
			Type:      kind,
			Status:    models.SchedulePending,
		})
	}

	msg := &models.ScheduledMessage{
		Message:     req.Message,
		MediaURL:    req.MediaURL,
		Type:        req.Kind,
		ScheduledAt: req.At.UTC(),
		Status:      models.SchedulePending,
		Recipients:  recipients,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	s.log.Info("Message scheduled",
		zap.Uint("schedule_id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.Int("recipients", len(recipients)),
		zap.Time("scheduled_at", msg.ScheduledAt),
	)
	return msg, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	var msg models.ScheduledMessage
	err := s.db.WithContext(ctx).
		Preload("Recipients", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Cancel fails every still-pending recipient and a still-pending parent.
// Terminal rows are left untouched.
func (s *Service) Cancel(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Recipient{}).
			Where("schedule_id = ? AND status = ?", id, models.SchedulePending).
			Updates(map[string]interface{}{"status": models.ScheduleFailed, "error": CancelReason}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.ScheduledMessage{}).
			Where("id = ? AND status = ?", id, models.SchedulePending).
			Updates(map[string]interface{}{"status": models.ScheduleFailed, "error": CancelReason}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("cancel schedule %d: %w", id, err)
	}
	s.log.Info("Schedule cancelled", zap.Uint("schedule_id", id))
	return s.Get(ctx, id)
}

// DueItems returns pending schedules due at now, oldest first, with only
// their pending recipients loaded.
func (s *Service) DueItems(ctx context.Context, now time.Time) ([]models.ScheduledMessage, error) {
	var items []models.ScheduledMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.SchedulePending, now.UTC()).
		Order("scheduled_at ASC, id ASC").
		Preload("Recipients", func(db *gorm.DB) *gorm.DB {
			return db.Where("status = ?", models.SchedulePending).Order("id ASC")
		}).
		Find(&items).Error
	return items, err
}

func (s *Service) AllPending(ctx context.Context) ([]models.ScheduledMessage, error) {
	var items []models.ScheduledMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SchedulePending).
		Order("scheduled_at ASC").
		Preload("Recipients").
		Find(&items).Error
	return items, err
}

type HistoryFilter struct {
	Status models.ScheduleStatus
	Kind   models.MessageKind
	Limit  int
	Offset int
}

func (s *Service) History(ctx context.Context, f HistoryFilter) ([]models.ScheduledMessage, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ScheduledMessage{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("type = ?", f.Kind)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []models.ScheduledMessage
	err := q.Order("scheduled_at DESC").Limit(limit).Offset(f.Offset).Preload("Recipients").Find(&items).Error
	return items, total, err
}

type Stats struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status models.ScheduleStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	for _, r := range rows {
		switch r.Status {
		case models.SchedulePending:
			stats.Pending = r.Count
		case models.ScheduleSent:
			stats.Sent = r.Count
		case models.ScheduleFailed:
			stats.Failed = r.Count
		}
	}
	return stats, nil
}

// ErrSettled reports a mark on a row that is no longer PENDING, typically one
// cancelled while the worker was sending.
var ErrSettled = errors.New("scheduled row already settled")

// RecipientPending reports whether the recipient and its schedule are both
// still PENDING.
func (s *Service) RecipientPending(ctx context.Context, recipientID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Recipient{}).
		Joins("JOIN whatsapp_schedules ON whatsapp_schedules.id = whatsapp_recipients.schedule_id").
		Where("whatsapp_recipients.id = ? AND whatsapp_recipients.status = ? AND whatsapp_schedules.status = ?",
			recipientID, models.SchedulePending, models.SchedulePending).
		Count(&n).Error
	return n > 0, err
}

// SchedulePending reports whether the schedule itself is still PENDING.
func (s *Service) SchedulePending(ctx context.Context, id uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, models.SchedulePending).
		Count(&n).Error
	return n > 0, err
}

func (s *Service) MarkRecipientSent(ctx context.Context, recipientID uint) error {
	now := s.now().UTC()
	return s.settle(ctx, &models.Recipient{}, recipientID,
		map[string]interface{}{"status": models.ScheduleSent, "sent_at": now, "error": ""})
}

func (s *Service) MarkRecipientFailed(ctx context.Context, recipientID uint, cause error) error {
	return s.settle(ctx, &models.Recipient{}, recipientID,
		map[string]interface{}{"status": models.ScheduleFailed, "error": apperrors.Reason(cause)})
}

// settle moves a PENDING row to a terminal state. Terminal rows are never
// rewritten.
func (s *Service) settle(ctx context.Context, model interface{}, id uint, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, models.SchedulePending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSettled
	}
	return nil
}

// Finalize marks the schedule SENT when no recipient is pending any more.
// It reports whether the schedule reached SENT.
func (s *Service) Finalize(ctx context.Context, id uint) (bool, error) {
	var pending int64
	err := s.db.WithContext(ctx).Model(&models.Recipient{}).
		Where("schedule_id = ? AND status = ?", id, models.SchedulePending).
		Count(&pending).Error
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, models.SchedulePending).
		Updates(map[string]interface{}{"status": models.ScheduleSent, "sent_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) MarkFailed(ctx context.Context, id uint, cause error) error {
	return s.settle(ctx, &models.ScheduledMessage{}, id,
		map[string]interface{}{"status": models.ScheduleFailed, "error": apperrors.Reason(cause)})
}
