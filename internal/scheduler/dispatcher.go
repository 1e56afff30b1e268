package scheduler

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
	SendStatus(ctx context.Context, p whatsapp.Payload) error
}

type Delays struct {
	Individual time.Duration
	Group      time.Duration
}

// Dispatcher delivers due scheduled messages. ProcessDue is the job of the
// message worker.
type Dispatcher struct {
	service *Service
	sender  Sender
	bus     *events.Bus
	delays  Delays
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(service *Service, sender Sender, bus *events.Bus, delays Delays, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		sender:  sender,
		bus:     bus,
		delays:  delays,
		log:     log.With(zap.String("component", "schedule-dispatcher")),
		sleep:   sleepCtx,
	}
}

// Result summarises one processed schedule.
type Result struct {
	ScheduleID uint                  `json:"schedule_id"`
	Status     models.ScheduleStatus `json:"status"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
}

func (d *Dispatcher) ProcessDue(ctx context.Context) error {
	if !d.sender.IsConnected() {
		d.log.Debug("Session not connected, skipping tick")
		return nil
	}
	due, err := d.service.DueItems(ctx, d.service.now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	d.log.Info("Processing due schedules", zap.Int("count", len(due)))

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := d.process(ctx, &due[i])
		d.bus.Publish(ctx, events.TypeScheduleProcessed, res)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, msg *models.ScheduledMessage) Result {
	res := Result{ScheduleID: msg.ID}
	log := d.log.With(zap.Uint("schedule_id", msg.ID), zap.String("type", string(msg.Type)))

	if msg.Type == models.KindStatus {
		pending, err := d.service.SchedulePending(ctx, msg.ID)
		if err != nil {
			log.Error("Check schedule state", zap.Error(err))
			res.Status = models.SchedulePending
			return res
		}
		if !pending {
			res.Status = models.ScheduleFailed
			return res
		}
		err = d.sender.SendStatus(ctx, whatsapp.MediaPayload(msg.MediaURL, msg.Message))
		if err != nil {
			log.Warn("Status broadcast failed", zap.Error(err))
			d.persist(log, "Persist schedule failure", d.service.MarkFailed(ctx, msg.ID, err))
			res.Status, res.Failed = models.ScheduleFailed, 1
			return res
		}
		if _, err := d.service.Finalize(ctx, msg.ID); err != nil {
			log.Error("Finalize schedule", zap.Error(err))
		}
		res.Status, res.Sent = models.ScheduleSent, 1
		return res
	}

	payload := payloadFor(msg)
	for _, r := range msg.Recipients {
		// the snapshot may be stale if the schedule was cancelled mid-tick
		pending, err := d.service.RecipientPending(ctx, r.ID)
		if err != nil {
			log.Error("Check recipient state", zap.String("recipient", r.Recipient), zap.Error(err))
			continue
		}
		if !pending {
			log.Debug("Recipient no longer pending, skipping", zap.String("recipient", r.Recipient))
			continue
		}

		err = d.sender.Send(ctx, r.Recipient, payload)
		if err != nil {
			res.Failed++
			log.Warn("Recipient delivery failed", zap.String("recipient", r.Recipient), zap.Error(err))
			d.persist(log, "Persist recipient failure", d.service.MarkRecipientFailed(ctx, r.ID, err))
		} else {
			res.Sent++
			d.persist(log, "Persist recipient delivery", d.service.MarkRecipientSent(ctx, r.ID))
		}

		delay := d.delays.Individual
		if r.Type == models.RecipientGroup {
			delay = d.delays.Group
		}
		if err := d.sleep(ctx, delay); err != nil {
			break
		}
	}

	sent, err := d.service.Finalize(ctx, msg.ID)
	if err != nil {
		log.Error("Finalize schedule", zap.Error(err))
	}
	res.Status = models.SchedulePending
	if sent {
		res.Status = models.ScheduleSent
	} else if pending, err := d.service.SchedulePending(ctx, msg.ID); err == nil && !pending {
		res.Status = models.ScheduleFailed
	}
	log.Info("Schedule processed", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res
}

func (d *Dispatcher) persist(log *zap.Logger, msg string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrSettled):
		log.Warn("Row settled during delivery, keeping its state")
	default:
		log.Error(msg, zap.Error(err))
	}
}

func payloadFor(msg *models.ScheduledMessage) whatsapp.Payload {
	switch msg.Type {
	case models.KindImage:
		return whatsapp.ImageURL(msg.MediaURL, msg.Message)
	case models.KindVideo:
		return whatsapp.VideoURL(msg.MediaURL, msg.Message)
	default:
		return whatsapp.Text(msg.Message)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
