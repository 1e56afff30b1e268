package autoreply

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"whatsapp-automation/internal/models"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine answers inbound text with the first matching keyword rule.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewEngine(db *gorm.DB, log *zap.Logger) *Engine {
	return &Engine{db: db, log: log.With(zap.String("component", "autoreply"))}
}

// FindMatchingReply walks active rules by priority (ties by creation
// order) and returns the response of the first rule that matches text.
// The winning rule's usage counter is incremented. ok is false when
// nothing matches.
func (e *Engine) FindMatchingReply(ctx context.Context, text string) (response string, ok bool, err error) {
	message := strings.ToLower(strings.TrimSpace(text))
	if message == "" {
		return "", false, nil
	}

	var matched *models.AutoReplyRule
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rules []models.AutoReplyRule
		if err := tx.Where("is_active = ?", true).Order("priority DESC, id ASC").Find(&rules).Error; err != nil {
			return fmt.Errorf("load auto-reply rules: %w", err)
		}
		for i := range rules {
			if e.matches(message, rules[i]) {
				matched = &rules[i]
				break
			}
		}
		if matched == nil {
			return nil
		}
		return tx.Model(&models.AutoReplyRule{}).
			Where("id = ?", matched.ID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
	})
	if err != nil {
		return "", false, err
	}
	if matched == nil {
		return "", false, nil
	}
	e.log.Debug("Auto-reply rule matched",
		zap.Uint("rule_id", matched.ID),
		zap.String("keyword", matched.Keyword),
		zap.String("match_type", string(matched.MatchType)),
	)
	return matched.Response, true, nil
}

// matches expects message already lowercased and trimmed.
func (e *Engine) matches(message string, rule models.AutoReplyRule) bool {
	if rule.MatchType == models.MatchRegex {
		re, err := regexp.Compile("(?i)" + rule.Keyword)
		if err != nil {
			e.log.Warn("Invalid auto-reply pattern", zap.Uint("rule_id", rule.ID), zap.Error(err))
			return false
		}
		return re.MatchString(message)
	}

	keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
	switch rule.MatchType {
	case models.MatchExact:
		return message == keyword
	case models.MatchContains, "":
		return strings.Contains(message, keyword)
	case models.MatchStartsWith:
		return strings.HasPrefix(message, keyword)
	case models.MatchEndsWith:
		return strings.HasSuffix(message, keyword)
	default:
		return false
	}
}

type RuleInput struct {
	Keyword   string
	MatchType models.MatchType
	Response  string
	Priority  int
	IsActive  bool
}

func (in RuleInput) validate() error {
	if strings.TrimSpace(in.Keyword) == "" || strings.TrimSpace(in.Response) == "" {
		return apperrors.InvalidInput.Wrap(errors.New("keyword and response are required"))
	}
	switch in.MatchType {
	case models.MatchExact, models.MatchContains, models.MatchStartsWith, models.MatchEndsWith:
	case models.MatchRegex:
		if _, err := regexp.Compile("(?i)" + in.Keyword); err != nil {
			return apperrors.InvalidInput.Wrap(fmt.Errorf("invalid pattern: %w", err))
		}
	default:
		return apperrors.InvalidInput.Wrap(fmt.Errorf("unknown match type %q", in.MatchType))
	}
	return nil
}

func (e *Engine) Create(ctx context.Context, in RuleInput) (*models.AutoReplyRule, error) {
	if in.MatchType == "" {
		in.MatchType = models.MatchContains
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	rule := &models.AutoReplyRule{
		Keyword:   strings.TrimSpace(in.Keyword),
		MatchType: in.MatchType,
		Response:  in.Response,
		Priority:  in.Priority,
		IsActive:  in.IsActive,
	}
	if err := e.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	e.log.Info("Auto-reply rule created", zap.Uint("rule_id", rule.ID), zap.String("keyword", rule.Keyword))
	return rule, nil
}

func (e *Engine) Update(ctx context.Context, id uint, in RuleInput) (*models.AutoReplyRule, error) {
	if in.MatchType == "" {
		in.MatchType = models.MatchContains
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	rule, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = e.db.WithContext(ctx).Model(rule).Updates(map[string]interface{}{
		"keyword":    strings.TrimSpace(in.Keyword),
		"match_type": in.MatchType,
		"response":   in.Response,
		"priority":   in.Priority,
		"is_active":  in.IsActive,
	}).Error
	if err != nil {
		return nil, err
	}
	return e.Get(ctx, id)
}

// Upsert updates the rule with id when id is non-zero, otherwise creates one.
func (e *Engine) Upsert(ctx context.Context, id uint, in RuleInput) (*models.AutoReplyRule, error) {
	if id == 0 {
		return e.Create(ctx, in)
	}
	return e.Update(ctx, id, in)
}

func (e *Engine) Get(ctx context.Context, id uint) (*models.AutoReplyRule, error) {
	var rule models.AutoReplyRule
	err := e.db.WithContext(ctx).First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.RuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (e *Engine) Delete(ctx context.Context, id uint) error {
	res := e.db.WithContext(ctx).Delete(&models.AutoReplyRule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.RuleNotFound
	}
	return nil
}

// Toggle flips is_active and returns the updated rule.
func (e *Engine) Toggle(ctx context.Context, id uint) (*models.AutoReplyRule, error) {
	rule, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	active := !rule.IsActive
	if err := e.db.WithContext(ctx).Model(rule).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	rule.IsActive = active
	return rule, nil
}

func (e *Engine) List(ctx context.Context, activeOnly bool) ([]models.AutoReplyRule, error) {
	q := e.db.WithContext(ctx).Order("priority DESC, id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rules []models.AutoReplyRule
	if err := q.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

type Stats struct {
	Total      int64 `json:"total"`
	Active     int64 `json:"active"`
	TotalUsage int64 `json:"total_usage"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	db := e.db.WithContext(ctx).Model(&models.AutoReplyRule{})
	s := &Stats{}
	if err := db.Session(&gorm.Session{}).Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("is_active = ?", true).Count(&s.Active).Error; err != nil {
		return nil, fmt.Errorf("count active rules: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Select("COALESCE(SUM(usage_count), 0)").Scan(&s.TotalUsage).Error; err != nil {
		return nil, fmt.Errorf("sum rule usage: %w", err)
	}
	return s, nil
}
