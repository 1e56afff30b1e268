package router

import (
	"context"
	"strings"
	"time"

	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/whatsapp"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Directory interface {
	Upsert(ctx context.Context, in contacts.UpsertInput) (*models.Contact, error)
}

type MessageLog interface {
	Save(ctx context.Context, e messages.Entry) (*models.Message, error)
}

type Replier interface {
	FindMatchingReply(ctx context.Context, text string) (string, bool, error)
}

type Sender interface {
	Send(ctx context.Context, to string, p whatsapp.Payload) error
}

// Router consumes inbound messages one at a time, so per-chat ordering is
// the order of arrival.
type Router struct {
	directory  Directory
	log        MessageLog
	replier    Replier
	sender     Sender
	bus        *events.Bus
	replyDelay time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Directory  Directory
	Messages   MessageLog
	Replier    Replier
	Sender     Sender
	Bus        *events.Bus
	ReplyDelay time.Duration
}

func New(deps Deps, logger *zap.Logger) *Router {
	return &Router{
		directory:  deps.Directory,
		log:        deps.Messages,
		replier:    deps.Replier,
		sender:     deps.Sender,
		bus:        deps.Bus,
		replyDelay: deps.ReplyDelay,
		logger:     logger.With(zap.String("component", "router")),
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

// Run handles messages from in until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan whatsapp.InboundMessage) {
	r.logger.Info("Inbound router started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Inbound router stopped")
			return
		case msg, ok := <-in:
			if !ok {
				r.logger.Info("Inbound channel closed")
				return
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle processes one message synchronously. Failures are logged and
// never abort the remaining steps that do not depend on them.
func (r *Router) Handle(ctx context.Context, msg whatsapp.InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if msg.FromMe || msg.IsBroadcast || text == "" {
		return
	}
	log := r.logger.With(zap.String("chat", msg.ChatJID), zap.String("message_id", msg.ID))

	// group traffic is logged under the group jid without touching contacts
	if !msg.IsGroup {
		if _, err := r.directory.Upsert(ctx, contacts.UpsertInput{JID: msg.ChatJID, PushName: msg.PushName}); err != nil {
			log.Error("Contact upsert failed", zap.Error(err))
		}
	}

	if _, err := r.log.Save(ctx, messages.Entry{
		MessageID:  msg.ID,
		ContactJID: msg.ChatJID,
		Type:       msg.Type,
		Content:    text,
		Direction:  models.DirectionIncoming,
		Timestamp:  msg.Timestamp,
	}); err != nil {
		log.Error("Message log failed", zap.Error(err))
	}
	r.bus.Publish(ctx, events.TypeMessageInbound, msg)

	if msg.IsGroup {
		return
	}

	reply, ok, err := r.replier.FindMatchingReply(ctx, text)
	if err != nil {
		log.Error("Auto-reply lookup failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if err := r.sleep(ctx, r.replyDelay); err != nil {
		return
	}
	if err := r.sender.Send(ctx, msg.ChatJID, whatsapp.Text(reply)); err != nil {
		log.Warn("Auto-reply send failed", zap.Error(err))
		return
	}
	if _, err := r.log.Save(ctx, messages.Entry{
		MessageID:   "auto-" + uuid.NewString(),
		ContactJID:  msg.ChatJID,
		Type:        "text",
		Content:     reply,
		Direction:   models.DirectionOutgoing,
		IsAutoReply: true,
	}); err != nil {
		log.Error("Auto-reply log failed", zap.Error(err))
	}
	log.Info("Auto-reply sent")
}
