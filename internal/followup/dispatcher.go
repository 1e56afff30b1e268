package followup

import (
	"context"
	"errors"
	"time"

	"whatsapp-automation/internal/events"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/whatsapp"

	"go.uber.org/zap"
)

// Sender is the delivery side of the connection manager.
type Sender interface {
	IsConnected() bool
	Send(ctx context.Context, to string, p whatsapp.Payload) error
}

// Dispatcher delivers due follow-ups. ProcessDue is the job of the
// follow-up worker.
type Dispatcher struct {
	engine *Engine
	sender Sender
	bus    *events.Bus
	delay  time.Duration
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(engine *Engine, sender Sender, bus *events.Bus, delay time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		sender: sender,
		bus:    bus,
		delay:  delay,
		log:    log.With(zap.String("component", "followup-dispatcher")),
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

type deliveryEvent struct {
	FollowUpID uint   `json:"follow_up_id"`
	ContactJID string `json:"contact_jid"`
	TemplateID uint   `json:"template_id"`
	Error      string `json:"error,omitempty"`
}

func (d *Dispatcher) ProcessDue(ctx context.Context) error {
	if !d.sender.IsConnected() {
		d.log.Debug("Session not connected, skipping tick")
		return nil
	}
	due, err := d.engine.GetDue(ctx, d.engine.now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	d.log.Info("Processing due follow-ups", zap.Int("count", len(due)))

	for i := range due {
		fu := &due[i]
		ev := deliveryEvent{FollowUpID: fu.ID, TemplateID: fu.TemplateID}
		if fu.Contact != nil {
			ev.ContactJID = fu.Contact.JID
		}

		if err := d.deliver(ctx, fu); err != nil {
			d.log.Warn("Follow-up delivery failed", zap.Uint("follow_up_id", fu.ID), zap.Error(err))
			if err := d.engine.MarkFailed(ctx, fu.ID, err); err != nil {
				d.log.Error("Persist follow-up failure", zap.Uint("follow_up_id", fu.ID), zap.Error(err))
			}
			ev.Error = err.Error()
			d.bus.Publish(ctx, events.TypeFollowUpFailed, ev)
			continue
		}

		if err := d.engine.MarkSent(ctx, fu.ID); err != nil {
			d.log.Error("Persist follow-up delivery", zap.Uint("follow_up_id", fu.ID), zap.Error(err))
		}
		d.bus.Publish(ctx, events.TypeFollowUpSent, ev)
		d.log.Info("Follow-up sent", zap.Uint("follow_up_id", fu.ID), zap.String("contact", ev.ContactJID))

		if err := d.sleep(ctx, d.delay); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, fu *models.FollowUp) error {
	if fu.Contact == nil || fu.Template == nil {
		return errors.New("follow-up contact or template missing")
	}
	body := RenderMessage(fu.Template.Message, Variables(fu.Contact, fu.Metadata))

	payload := whatsapp.Text(body)
	if fu.Template.MediaURL != "" {
		switch fu.Template.MediaType {
		case models.KindImage:
			payload = whatsapp.ImageURL(fu.Template.MediaURL, body)
		case models.KindVideo:
			payload = whatsapp.VideoURL(fu.Template.MediaURL, body)
		}
	}
	return d.sender.Send(ctx, fu.Contact.JID, payload)
}
