package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-automation/internal/models"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine owns follow-up templates and the follow-ups they produce.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewEngine(db *gorm.DB, log *zap.Logger) *Engine {
	return &Engine{
		db:  db,
		log: log.With(zap.String("component", "followup")),
		now: time.Now,
	}
}

type TemplateInput struct {
	Name         string
	Description  string
	Trigger      models.Trigger
	DelayDays    int
	DelayHours   int
	DelayMinutes int
	Message      string
	MediaURL     string
	MediaType    models.MessageKind
	IsActive     bool
	Priority     int
}

func (in TemplateInput) validate() error {
	invalid := func(msg string) error { return apperrors.InvalidInput.Wrap(errors.New(msg)) }
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Message) == "" {
		return invalid("name and message are required")
	}
	switch in.Trigger {
	case models.TriggerAfterOrder, models.TriggerAfterDelivery, models.TriggerOrderCancelled,
		models.TriggerInactive, models.TriggerFirstContact, models.TriggerManual:
	default:
		return apperrors.InvalidInput.Wrap(fmt.Errorf("unknown trigger %q", in.Trigger))
	}
	if in.DelayDays < 0 || in.DelayHours < 0 || in.DelayMinutes < 0 {
		return invalid("delays cannot be negative")
	}
	switch in.MediaType {
	case "", models.KindImage, models.KindVideo:
	default:
		return apperrors.InvalidInput.Wrap(fmt.Errorf("unsupported media type %q", in.MediaType))
	}
	return nil
}

func (in TemplateInput) fields() map[string]interface{} {
	return map[string]interface{}{
		"name":          in.Name,
		"description":   in.Description,
		"trigger_event": in.Trigger,
		"delay_days":    in.DelayDays,
		"delay_hours":   in.DelayHours,
		"delay_minutes": in.DelayMinutes,
		"message":       in.Message,
		"media_url":     in.MediaURL,
		"media_type":    in.MediaType,
		"is_active":     in.IsActive,
		"priority":      in.Priority,
	}
}

func (e *Engine) CreateTemplate(ctx context.Context, in TemplateInput) (*models.FollowUpTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tpl := &models.FollowUpTemplate{
		Name:         in.Name,
		Description:  in.Description,
		Trigger:      in.Trigger,
		DelayDays:    in.DelayDays,
		DelayHours:   in.DelayHours,
		DelayMinutes: in.DelayMinutes,
		Message:      in.Message,
		MediaURL:     in.MediaURL,
		MediaType:    in.MediaType,
		IsActive:     in.IsActive,
		Priority:     in.Priority,
	}
	if err := e.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, err
	}
	e.log.Info("Follow-up template created", zap.Uint("template_id", tpl.ID), zap.String("trigger", string(tpl.Trigger)))
	return tpl, nil
}

func (e *Engine) UpdateTemplate(ctx context.Context, id uint, in TemplateInput) (*models.FollowUpTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tpl, err := e.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.db.WithContext(ctx).Model(tpl).Updates(in.fields()).Error; err != nil {
		return nil, err
	}
	return e.GetTemplate(ctx, id)
}

func (e *Engine) GetTemplate(ctx context.Context, id uint) (*models.FollowUpTemplate, error) {
	var tpl models.FollowUpTemplate
	err := e.db.WithContext(ctx).First(&tpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.TemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// DeleteTemplate removes the template; its follow-ups go with it.
func (e *Engine) DeleteTemplate(ctx context.Context, id uint) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&models.FollowUp{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.FollowUpTemplate{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.TemplateNotFound
		}
		return nil
	})
}

func (e *Engine) ToggleTemplate(ctx context.Context, id uint) (*models.FollowUpTemplate, error) {
	tpl, err := e.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	active := !tpl.IsActive
	if err := e.db.WithContext(ctx).Model(tpl).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	tpl.IsActive = active
	return tpl, nil
}

func (e *Engine) ListTemplates(ctx context.Context, trigger models.Trigger, activeOnly bool) ([]models.FollowUpTemplate, error) {
	q := e.db.WithContext(ctx).Order("priority DESC, id ASC")
	if trigger != "" {
		q = q.Where("trigger_event = ?", trigger)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var tpls []models.FollowUpTemplate
	err := q.Find(&tpls).Error
	return tpls, err
}

type ScheduleInput struct {
	ContactJID string
	TemplateID uint
	// At overrides the template delay when set.
	At       *time.Time
	Metadata map[string]interface{}
	EventKey string
}

// ScheduleFollowUp creates one pending follow-up. When EventKey is set and
// a follow-up already exists for the same contact, template and key, the
// existing row is returned with created=false.
func (e *Engine) ScheduleFollowUp(ctx context.Context, in ScheduleInput) (fu *models.FollowUp, created bool, err error) {
	var contact models.Contact
	err = e.db.WithContext(ctx).Where("jid = ?", in.ContactJID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperrors.ContactNotFound
	}
	if err != nil {
		return nil, false, err
	}
	tpl, err := e.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, false, err
	}
	if !tpl.IsActive {
		return nil, false, apperrors.TemplateInactive
	}

	var key *string
	if in.EventKey != "" {
		key = &in.EventKey
		var existing models.FollowUp
		res := e.db.WithContext(ctx).
			Where("contact_id = ? AND template_id = ? AND event_key = ?", contact.ID, tpl.ID, in.EventKey).
			Limit(1).Find(&existing)
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected > 0 {
			return &existing, false, nil
		}
	}

	at := e.now().UTC().Add(tpl.Delay())
	if in.At != nil {
		at = in.At.UTC()
	}
	fu = &models.FollowUp{
		ContactID:   contact.ID,
		TemplateID:  tpl.ID,
		EventKey:    key,
		ScheduledAt: at,
		Status:      models.FollowUpPending,
		Metadata:    in.Metadata,
	}
	if err := e.db.WithContext(ctx).Create(fu).Error; err != nil {
		return nil, false, fmt.Errorf("create follow-up: %w", err)
	}
	fu.Contact, fu.Template = &contact, tpl
	e.log.Info("Follow-up scheduled",
		zap.Uint("follow_up_id", fu.ID),
		zap.String("template", tpl.Name),
		zap.String("contact", contact.JID),
		zap.Time("scheduled_at", at),
	)
	return fu, true, nil
}

type TriggerRequest struct {
	ContactJID string
	Trigger    models.Trigger
	EventKey   string
	Metadata   map[string]interface{}
}

// ScheduleResult reports the outcome for one template.
type ScheduleResult struct {
	TemplateID   uint             `json:"template_id"`
	TemplateName string           `json:"template_name"`
	FollowUp     *models.FollowUp `json:"follow_up,omitempty"`
	Duplicate    bool             `json:"duplicate,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// ScheduleByTrigger creates one follow-up per active template listening on
// the trigger. Per-template failures are reported, not returned.
func (e *Engine) ScheduleByTrigger(ctx context.Context, req TriggerRequest) ([]ScheduleResult, error) {
	tpls, err := e.ListTemplates(ctx, req.Trigger, true)
	if err != nil {
		return nil, err
	}
	results := make([]ScheduleResult, 0, len(tpls))
	for _, tpl := range tpls {
		res := ScheduleResult{TemplateID: tpl.ID, TemplateName: tpl.Name}
		fu, created, err := e.ScheduleFollowUp(ctx, ScheduleInput{
			ContactJID: req.ContactJID,
			TemplateID: tpl.ID,
			Metadata:   req.Metadata,
			EventKey:   req.EventKey,
		})
		switch {
		case err != nil:
			res.Error = err.Error()
			e.log.Warn("Follow-up scheduling failed", zap.String("template", tpl.Name), zap.Error(err))
		case !created:
			res.FollowUp, res.Duplicate = fu, true
		default:
			res.FollowUp = fu
		}
		results = append(results, res)
	}
	return results, nil
}

// GetDue returns pending follow-ups due at now with contact and template loaded.
func (e *Engine) GetDue(ctx context.Context, now time.Time) ([]models.FollowUp, error) {
	var due []models.FollowUp
	err := e.db.WithContext(ctx).
		Preload("Contact").
		Preload("Template").
		Where("status = ? AND scheduled_at <= ?", models.FollowUpPending, now.UTC()).
		Order("scheduled_at ASC, id ASC").
		Find(&due).Error
	return due, err
}

func (e *Engine) MarkSent(ctx context.Context, id uint) error {
	now := e.now().UTC()
	return e.setStatus(ctx, id, map[string]interface{}{"status": models.FollowUpSent, "sent_at": now, "error": ""})
}

func (e *Engine) MarkFailed(ctx context.Context, id uint, cause error) error {
	return e.setStatus(ctx, id, map[string]interface{}{"status": models.FollowUpFailed, "error": apperrors.Reason(cause)})
}

// Cancel cancels a pending follow-up.
func (e *Engine) Cancel(ctx context.Context, id uint) error {
	res := e.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", id, models.FollowUpPending).
		Update("status", models.FollowUpCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.FollowUpNotFound
	}
	return nil
}

func (e *Engine) CancelAllForContact(ctx context.Context, contactJID string) (int64, error) {
	var contact models.Contact
	err := e.db.WithContext(ctx).Where("jid = ?", contactJID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperrors.ContactNotFound
	}
	if err != nil {
		return 0, err
	}
	res := e.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("contact_id = ? AND status = ?", contact.ID, models.FollowUpPending).
		Update("status", models.FollowUpCancelled)
	return res.RowsAffected, res.Error
}

func (e *Engine) ContactFollowUps(ctx context.Context, contactJID string) ([]models.FollowUp, error) {
	var contact models.Contact
	err := e.db.WithContext(ctx).Where("jid = ?", contactJID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ContactNotFound
	}
	if err != nil {
		return nil, err
	}
	var fus []models.FollowUp
	err = e.db.WithContext(ctx).
		Preload("Template").
		Where("contact_id = ?", contact.ID).
		Order("scheduled_at DESC").
		Find(&fus).Error
	return fus, err
}

type Stats struct {
	Total    int64                           `json:"total"`
	ByStatus map[models.FollowUpStatus]int64 `json:"by_status"`
	Pending  int64                           `json:"pending"`
	Overdue  int64                           `json:"overdue"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status models.FollowUpStatus
		Count  int64
	}
	err := e.db.WithContext(ctx).Model(&models.FollowUp{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	s := &Stats{ByStatus: map[models.FollowUpStatus]int64{}}
	for _, r := range rows {
		s.ByStatus[r.Status] = r.Count
		s.Total += r.Count
	}
	s.Pending = s.ByStatus[models.FollowUpPending]
	err = e.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("status = ? AND scheduled_at < ?", models.FollowUpPending, e.now().UTC()).
		Count(&s.Overdue).Error
	return s, err
}

func (e *Engine) setStatus(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := e.db.WithContext(ctx).Model(&models.FollowUp{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.FollowUpNotFound
	}
	return nil
}
