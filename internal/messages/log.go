package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
)

// Log is the persisted conversation history.
type Log struct {
	db *gorm.DB
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

type Entry struct {
	MessageID   string
	ContactJID  string
	Type        string
	Content     string
	MediaURL    string
	Direction   models.Direction
	IsAutoReply bool
	Timestamp   time.Time
}

func (l *Log) Save(ctx context.Context, e Entry) (*models.Message, error) {
	if e.Type == "" {
		e.Type = "text"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	msg := &models.Message{
		MessageID:   e.MessageID,
		ContactJID:  e.ContactJID,
		Type:        e.Type,
		Content:     e.Content,
		MediaURL:    e.MediaURL,
		Direction:   e.Direction,
		IsFromMe:    e.Direction == models.DirectionOutgoing,
		IsAutoReply: e.IsAutoReply,
		Timestamp:   e.Timestamp,
	}
	if err := l.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// History returns the newest messages with contactJID, newest first.
func (l *Log) History(ctx context.Context, contactJID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var msgs []models.Message
	err := l.db.WithContext(ctx).
		Where("contact_jid = ?", contactJID).
		Order("timestamp DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

func (l *Log) Search(ctx context.Context, query string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var msgs []models.Message
	err := l.db.WithContext(ctx).
		Where("LOWER(content) LIKE ?", "%"+strings.ToLower(query)+"%").
		Order("timestamp DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

type Stats struct {
	Total       int64 `json:"total"`
	Incoming    int64 `json:"incoming"`
	Outgoing    int64 `json:"outgoing"`
	AutoReplies int64 `json:"auto_replies"`
	Today       int64 `json:"today"`
}

func (l *Log) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	db := l.db.WithContext(ctx).Model(&models.Message{})
	s := &Stats{}
	if err := db.Session(&gorm.Session{}).Count(&s.Total).Error; err != nil {
		return nil, err
	}
	y, m, d := now.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, q := range []*gorm.DB{
		db.Session(&gorm.Session{}).Where("direction = ?", models.DirectionIncoming).Count(&s.Incoming),
		db.Session(&gorm.Session{}).Where("direction = ?", models.DirectionOutgoing).Count(&s.Outgoing),
		db.Session(&gorm.Session{}).Where("is_auto_reply = ?", true).Count(&s.AutoReplies),
		db.Session(&gorm.Session{}).Where("timestamp >= ?", midnight).Count(&s.Today),
	} {
		if q.Error != nil {
			return nil, fmt.Errorf("message stats: %w", q.Error)
		}
	}
	return s, nil
}
