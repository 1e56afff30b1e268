package contacts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"whatsapp-automation/internal/models"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Directory tracks every counterparty and its lifecycle segment.
type Directory struct {
	db           *gorm.DB
	vipThreshold float64
	log          *zap.Logger
	now          func() time.Time
}

func NewDirectory(db *gorm.DB, vipThreshold float64, log *zap.Logger) *Directory {
	if vipThreshold <= 0 {
		vipThreshold = DefaultVIPThreshold
	}
	return &Directory{
		db:           db,
		vipThreshold: vipThreshold,
		log:          log.With(zap.String("component", "contacts")),
		now:          time.Now,
	}
}

type UpsertInput struct {
	JID      string
	Phone    string
	Name     string
	PushName string
}

// Upsert records an interaction: the contact is created on first sight,
// otherwise its message count and last interaction time are bumped.
func (d *Directory) Upsert(ctx context.Context, in UpsertInput) (*models.Contact, error) {
	if in.JID == "" {
		return nil, apperrors.InvalidInput.Wrap(errors.New("contact jid is required"))
	}
	now := d.now()

	var contact models.Contact
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("jid = ?", in.JID).Limit(1).Find(&contact)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			contact = models.Contact{
				JID:            in.JID,
				Phone:          phoneOf(in),
				Name:           in.Name,
				PushName:       in.PushName,
				FirstMessageAt: now,
				LastMessageAt:  now,
				MessageCount:   1,
				Tags:           []string{},
				Segment:        models.SegmentProspect,
			}
			return tx.Create(&contact).Error
		}

		updates := map[string]interface{}{
			"message_count":   gorm.Expr("message_count + ?", 1),
			"last_message_at": now,
		}
		if in.PushName != "" {
			updates["push_name"] = in.PushName
		}
		if in.Name != "" && contact.Name == "" {
			updates["name"] = in.Name
		}
		if err := tx.Model(&contact).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&contact, contact.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", in.JID, err)
	}
	return &contact, nil
}

// Ensure returns the contact for jid, creating it without counting an interaction.
func (d *Directory) Ensure(ctx context.Context, jid, name string) (*models.Contact, error) {
	now := d.now()
	contact := models.Contact{
		JID:            jid,
		Phone:          phoneOf(UpsertInput{JID: jid}),
		Name:           name,
		FirstMessageAt: now,
		LastMessageAt:  now,
		Tags:           []string{},
		Segment:        models.SegmentProspect,
	}
	err := d.db.WithContext(ctx).Where(models.Contact{JID: jid}).FirstOrCreate(&contact).Error
	if err != nil {
		return nil, fmt.Errorf("ensure contact %s: %w", jid, err)
	}
	return &contact, nil
}

func (d *Directory) Get(ctx context.Context, jid string) (*models.Contact, error) {
	var contact models.Contact
	err := d.db.WithContext(ctx).Where("jid = ?", jid).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

type ListFilter struct {
	Segment    models.Segment
	IsFavorite *bool
	IsBlocked  *bool
	Search     string
	Tag        string
	Limit      int
	Offset     int
}

func (d *Directory) List(ctx context.Context, f ListFilter) ([]models.Contact, int64, error) {
	q := d.db.WithContext(ctx).Model(&models.Contact{})
	if f.Segment != "" {
		q = q.Where("segment = ?", f.Segment)
	}
	if f.IsFavorite != nil {
		q = q.Where("is_favorite = ?", *f.IsFavorite)
	}
	if f.IsBlocked != nil {
		q = q.Where("is_blocked = ?", *f.IsBlocked)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(push_name) LIKE ? OR phone LIKE ?", like, like, like)
	}
	if f.Tag != "" {
		// tags are stored as a JSON array of strings
		q = q.Where("tags LIKE ?", "%\""+f.Tag+"\"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var contacts []models.Contact
	err := q.Order("last_message_at DESC").Limit(limit).Offset(f.Offset).Find(&contacts).Error
	if err != nil {
		return nil, 0, err
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return contacts, total, nil
}

type UpdateInput struct {
	Name       *string
	Notes      *string
	IsBlocked  *bool
	IsFavorite *bool
}

// Update edits administrative fields. Blocking or unblocking recomputes the segment.
func (d *Directory) Update(ctx context.Context, jid string, in UpdateInput) (*models.Contact, error) {
	contact, err := d.Get(ctx, jid)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if in.IsBlocked != nil {
		updates["is_blocked"] = *in.IsBlocked
	}
	if in.IsFavorite != nil {
		updates["is_favorite"] = *in.IsFavorite
	}
	if len(updates) > 0 {
		if err := d.db.WithContext(ctx).Model(contact).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	if in.IsBlocked != nil {
		if _, err := d.RecalculateSegment(ctx, jid); err != nil {
			return nil, err
		}
	}
	return d.Get(ctx, jid)
}

func (d *Directory) AddTags(ctx context.Context, jid string, tags []string) (*models.Contact, error) {
	return d.editTags(ctx, jid, func(current []string) []string {
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag != "" && !slices.Contains(current, tag) {
				current = append(current, tag)
			}
		}
		return current
	})
}

func (d *Directory) RemoveTags(ctx context.Context, jid string, tags []string) (*models.Contact, error) {
	return d.editTags(ctx, jid, func(current []string) []string {
		return slices.DeleteFunc(current, func(t string) bool {
			return slices.Contains(tags, t)
		})
	})
}

func (d *Directory) editTags(ctx context.Context, jid string, edit func([]string) []string) (*models.Contact, error) {
	contact, err := d.Get(ctx, jid)
	if err != nil {
		return nil, err
	}
	tags := edit(slices.Clone([]string(contact.Tags)))
	if tags == nil {
		tags = []string{}
	}
	contact.Tags = tags
	if err := d.db.WithContext(ctx).Model(contact).Update("tags", contact.Tags).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

// RecordOrder adds an order to the contact's totals and recomputes its segment.
func (d *Directory) RecordOrder(ctx context.Context, jid string, amount float64, at time.Time) (*models.Contact, error) {
	res := d.db.WithContext(ctx).Model(&models.Contact{}).Where("jid = ?", jid).Updates(map[string]interface{}{
		"total_orders":  gorm.Expr("total_orders + ?", 1),
		"total_spent":   gorm.Expr("total_spent + ?", amount),
		"last_order_at": at,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ContactNotFound
	}
	if _, err := d.RecalculateSegment(ctx, jid); err != nil {
		return nil, err
	}
	return d.Get(ctx, jid)
}

// RecalculateSegment persists the computed segment when it differs from
// the stored one.
func (d *Directory) RecalculateSegment(ctx context.Context, jid string) (models.Segment, error) {
	contact, err := d.Get(ctx, jid)
	if err != nil {
		return "", err
	}
	return d.applySegment(ctx, contact)
}

func (d *Directory) applySegment(ctx context.Context, contact *models.Contact) (models.Segment, error) {
	segment := ComputeSegment(*contact, d.now(), d.vipThreshold)
	if segment == contact.Segment {
		return segment, nil
	}
	err := d.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contact.ID).
		Update("segment", segment).Error
	if err != nil {
		return "", err
	}
	d.log.Info("Segment updated",
		zap.String("jid", contact.JID),
		zap.String("from", string(contact.Segment)),
		zap.String("to", string(segment)),
	)
	contact.Segment = segment
	return segment, nil
}

// RecalculateAll refreshes every segment; inactivity depends on the clock
// so this runs periodically.
func (d *Directory) RecalculateAll(ctx context.Context) (int, error) {
	changed := 0
	var batch []models.Contact
	err := d.db.WithContext(ctx).Model(&models.Contact{}).FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			before := batch[i].Segment
			after, err := d.applySegment(ctx, &batch[i])
			if err != nil {
				d.log.Warn("Segment update failed", zap.String("jid", batch[i].JID), zap.Error(err))
				continue
			}
			if after != before {
				changed++
			}
		}
		return nil
	}).Error
	if err != nil {
		return changed, err
	}
	d.log.Info("Segments recalculated", zap.Int("changed", changed))
	return changed, nil
}

type Stats struct {
	Total      int64                    `json:"total"`
	BySegment  map[models.Segment]int64 `json:"by_segment"`
	Favorites  int64                    `json:"favorites"`
	Blocked    int64                    `json:"blocked"`
	WithOrders int64                    `json:"with_orders"`
}

func (d *Directory) Stats(ctx context.Context) (*Stats, error) {
	db := d.db.WithContext(ctx).Model(&models.Contact{})
	stats := &Stats{BySegment: map[models.Segment]int64{}}

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	var rows []struct {
		Segment models.Segment
		Count   int64
	}
	if err := db.Session(&gorm.Session{}).Select("segment, COUNT(*) AS count").Group("segment").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.BySegment[r.Segment] = r.Count
	}
	for _, q := range []*gorm.DB{
		db.Session(&gorm.Session{}).Where("is_favorite = ?", true).Count(&stats.Favorites),
		db.Session(&gorm.Session{}).Where("is_blocked = ?", true).Count(&stats.Blocked),
		db.Session(&gorm.Session{}).Where("total_orders > ?", 0).Count(&stats.WithOrders),
	} {
		if q.Error != nil {
			return nil, fmt.Errorf("contact stats: %w", q.Error)
		}
	}
	return stats, nil
}

func phoneOf(in UpsertInput) string {
	if in.Phone != "" {
		return in.Phone
	}
	user, _, _ := strings.Cut(in.JID, "@")
	return user
}
