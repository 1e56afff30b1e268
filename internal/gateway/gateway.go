// Package gateway is the administrative surface of the engine. Every
// request is validated before it reaches a component.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-automation/internal/autoreply"
	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/groups"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/notify"
	"whatsapp-automation/internal/scheduler"
	"whatsapp-automation/internal/whatsapp"
	"whatsapp-automation/internal/worker"
	apperrors "whatsapp-automation/pkg/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Session is the connection manager as seen by the gateway.
type Session interface {
	Connect(ctx context.Context, phone string) (string, error)
	Disconnect(ctx context.Context) error
	Status() whatsapp.Status
	IsConnected() bool
	Send(ctx context.Context, to string, p whatsapp.Payload) error
	SendStatus(ctx context.Context, p whatsapp.Payload) error
}

type Deps struct {
	Session   Session
	Contacts  *contacts.Directory
	Messages  *messages.Log
	Scheduler *scheduler.Service
	FollowUps *followup.Engine
	Replies   *autoreply.Engine
	Groups    *groups.Directory
	Orders    *notify.Orders

	ScheduleWorker *worker.Periodic
	FollowUpWorker *worker.Periodic

	BulkDelay time.Duration
}

type Gateway struct {
	Deps
	validate *validator.Validate
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, log *zap.Logger) *Gateway {
	return &Gateway{
		Deps:     deps,
		validate: validator.New(),
		log:      log.With(zap.String("component", "gateway")),
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

func (g *Gateway) check(req interface{}) error {
	return g.checkAs(apperrors.InvalidInput, req)
}

// checkAs runs struct validation and reports failures as def.
func (g *Gateway) checkAs(def apperrors.Definition, req interface{}) error {
	err := g.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return def.Wrap(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return def.Wrap(errors.New(strings.Join(msgs, "; ")))
}

type ConnectRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=8,max=20"`
}

type ConnectResponse struct {
	PairingCode string          `json:"pairing_code,omitempty"`
	Status      whatsapp.Status `json:"status"`
}

func (g *Gateway) Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	code, err := g.Session.Connect(ctx, req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return &ConnectResponse{PairingCode: code, Status: g.Session.Status()}, nil
}

func (g *Gateway) Status() whatsapp.Status {
	return g.Session.Status()
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	return g.Session.Disconnect(ctx)
}

type SendRequest struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// Send delivers a text message and records it against the contact.
func (g *Gateway) Send(ctx context.Context, req SendRequest) error {
	if err := g.check(req); err != nil {
		return err
	}
	jid, err := whatsapp.NormalizeJID(req.To)
	if err != nil {
		return apperrors.InvalidInput.Wrap(err)
	}
	if err := g.Session.Send(ctx, jid, whatsapp.Text(req.Message)); err != nil {
		return err
	}
	g.recordOutgoing(ctx, jid, "text", req.Message, "")
	return nil
}

type BulkRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=500,dive,required"`
	Message    string   `json:"message" validate:"required"`
}

type BulkResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SendBulk sends the same text to each recipient in turn. Individual
// failures are reported per recipient.
func (g *Gateway) SendBulk(ctx context.Context, req BulkRequest) ([]BulkResult, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	if !g.Session.IsConnected() {
		return nil, apperrors.NotConnected
	}
	results := make([]BulkResult, 0, len(req.Recipients))
	for i, to := range req.Recipients {
		res := BulkResult{Recipient: to}
		if err := g.Send(ctx, SendRequest{To: to, Message: req.Message}); err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		results = append(results, res)
		if i < len(req.Recipients)-1 {
			if err := g.sleep(ctx, g.BulkDelay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

type MediaRequest struct {
	To      string `json:"to" validate:"required"`
	Kind    string `json:"kind" validate:"required,oneof=image video"`
	URL     string `json:"url" validate:"required_without=Data,omitempty,url"`
	Data    []byte `json:"data,omitempty"`
	Caption string `json:"caption"`
}

func (r MediaRequest) payload() whatsapp.Payload {
	return whatsapp.Payload{Kind: whatsapp.PayloadKind(r.Kind), Text: r.Caption, URL: r.URL, Data: r.Data}
}

func (g *Gateway) SendMedia(ctx context.Context, req MediaRequest) error {
	if err := g.check(req); err != nil {
		return err
	}
	jid, err := whatsapp.NormalizeJID(req.To)
	if err != nil {
		return apperrors.InvalidInput.Wrap(err)
	}
	if err := g.Session.Send(ctx, jid, req.payload()); err != nil {
		return err
	}
	g.recordOutgoing(ctx, jid, req.Kind, req.Caption, req.URL)
	return nil
}

type StatusRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=text image video"`
	Text    string `json:"text" validate:"required_if=Kind text"`
	URL     string `json:"url" validate:"required_unless=Kind text,omitempty,url"`
	Caption string `json:"caption"`
}

func (g *Gateway) SendStatus(ctx context.Context, req StatusRequest) error {
	if err := g.check(req); err != nil {
		return err
	}
	var p whatsapp.Payload
	switch req.Kind {
	case "image":
		p = whatsapp.ImageURL(req.URL, req.Caption)
	case "video":
		p = whatsapp.VideoURL(req.URL, req.Caption)
	default:
		p = whatsapp.Text(req.Text)
	}
	return g.Session.SendStatus(ctx, p)
}

type ScheduleRequest struct {
	Message    string                     `json:"message"`
	Kind       string                     `json:"kind" validate:"required,oneof=TEXT IMAGE VIDEO STATUS"`
	MediaURL   string                     `json:"media_url" validate:"omitempty,url"`
	At         time.Time                  `json:"scheduled_at" validate:"required"`
	Recipients []scheduler.RecipientInput `json:"recipients" validate:"max=1000"`
}

// Schedule queues a message; it works while disconnected.
func (g *Gateway) Schedule(ctx context.Context, req ScheduleRequest) (*models.ScheduledMessage, error) {
	if err := g.checkAs(apperrors.InvalidSchedule, req); err != nil {
		return nil, err
	}
	return g.Scheduler.Schedule(ctx, scheduler.ScheduleRequest{
		Message:    req.Message,
		MediaURL:   req.MediaURL,
		Kind:       models.MessageKind(req.Kind),
		At:         req.At,
		Recipients: req.Recipients,
	})
}

func (g *Gateway) CancelSchedule(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	return g.Scheduler.Cancel(ctx, id)
}

type TriggerRequest struct {
	ContactJID string                 `json:"contact_jid" validate:"required"`
	Trigger    string                 `json:"trigger" validate:"required,oneof=AFTER_ORDER AFTER_DELIVERY ORDER_CANCELLED INACTIVE_CUSTOMER FIRST_CONTACT MANUAL"`
	EventKey   string                 `json:"event_key" validate:"max=255"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (g *Gateway) TriggerFollowUps(ctx context.Context, req TriggerRequest) ([]followup.ScheduleResult, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	jid, err := whatsapp.NormalizeJID(req.ContactJID)
	if err != nil {
		return nil, apperrors.InvalidInput.Wrap(err)
	}
	if _, err := g.Contacts.Get(ctx, jid); err != nil {
		return nil, err
	}
	return g.FollowUps.ScheduleByTrigger(ctx, followup.TriggerRequest{
		ContactJID: jid,
		Trigger:    models.Trigger(req.Trigger),
		EventKey:   req.EventKey,
		Metadata:   req.Metadata,
	})
}

type RuleRequest struct {
	ID        uint   `json:"id"`
	Keyword   string `json:"keyword" validate:"required,max=255"`
	MatchType string `json:"match_type" validate:"omitempty,oneof=EXACT CONTAINS STARTS_WITH ENDS_WITH REGEX"`
	Response  string `json:"response" validate:"required"`
	Priority  int    `json:"priority" validate:"gte=0,lte=1000"`
	IsActive  *bool  `json:"is_active"`
}

func (g *Gateway) UpsertAutoReplyRule(ctx context.Context, req RuleRequest) (*models.AutoReplyRule, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return g.Replies.Upsert(ctx, req.ID, autoreply.RuleInput{
		Keyword:   req.Keyword,
		MatchType: models.MatchType(req.MatchType),
		Response:  req.Response,
		Priority:  req.Priority,
		IsActive:  active,
	})
}

type GroupBroadcastRequest struct {
	Message  string `json:"message" validate:"required_without=MediaURL"`
	MediaURL string `json:"media_url" validate:"omitempty,url"`
}

func (g *Gateway) BroadcastToGroups(ctx context.Context, req GroupBroadcastRequest) ([]groups.BroadcastResult, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	if !g.Session.IsConnected() {
		return nil, apperrors.NotConnected
	}
	return g.Groups.BroadcastToActive(ctx, whatsapp.MediaPayload(req.MediaURL, req.Message))
}

func (g *Gateway) NotifyNewOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return apperrors.InvalidInput.Wrap(errors.New("order id is required"))
	}
	return g.Orders.NotifyNewOrder(ctx, orderID)
}

type OrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING CONFIRMED PREPARING READY DELIVERED CANCELLED"`
}

func (g *Gateway) NotifyOrderStatus(ctx context.Context, orderID string, req OrderStatusRequest) ([]followup.ScheduleResult, error) {
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	if err := g.check(req); err != nil {
		return nil, err
	}
	return g.Orders.NotifyStatusChange(ctx, orderID, req.Status)
}

// RunWorker runs one tick of the named worker now. ran is false when a
// tick was already in progress.
func (g *Gateway) RunWorker(ctx context.Context, name string) (ran bool, err error) {
	var w *worker.Periodic
	switch name {
	case "schedule":
		w = g.ScheduleWorker
	case "followup":
		w = g.FollowUpWorker
	}
	if w == nil {
		return false, apperrors.InvalidInput.Wrap(fmt.Errorf("unknown worker %q", name))
	}
	return w.TryTick(ctx)
}

func (g *Gateway) recordOutgoing(ctx context.Context, jid, kind, content, mediaURL string) {
	if g.Contacts != nil && !whatsapp.IsGroupJID(jid) {
		if _, err := g.Contacts.Ensure(ctx, jid, ""); err != nil {
			g.log.Warn("Contact ensure failed", zap.String("jid", jid), zap.Error(err))
		}
	}
	if g.Messages == nil {
		return
	}
	_, err := g.Messages.Save(ctx, messages.Entry{
		ContactJID: jid,
		Type:       kind,
		Content:    content,
		MediaURL:   mediaURL,
		Direction:  models.DirectionOutgoing,
	})
	if err != nil {
		g.log.Warn("Outgoing message log failed", zap.String("jid", jid), zap.Error(err))
	}
}
