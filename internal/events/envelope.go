package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types published by the engine.
const (
	TypeSessionState      = "session.state"
	TypePairingCode       = "session.pairing_code"
	TypeMessageInbound    = "message.inbound"
	TypeMessageOutbound   = "message.outbound"
	TypeScheduleProcessed = "schedule.processed"
	TypeFollowUpSent      = "followup.sent"
	TypeFollowUpFailed    = "followup.failed"
)

type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func New(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			Source:     "whatsapp-automation",
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
}

// Sink receives published envelopes.
type Sink interface {
	Publish(ctx context.Context, env Envelope) error
}

// Bus fans an envelope out to every sink. A failing sink is logged and
// does not stop delivery to the others.
type Bus struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
}

// DefaultPublishTimeout bounds each sink publish.
const DefaultPublishTimeout = 5 * time.Second

func NewBus(log *zap.Logger, sinks ...Sink) *Bus {
	return &Bus{
		sinks:   sinks,
		timeout: DefaultPublishTimeout,
		log:     log.With(zap.String("component", "events")),
	}
}

// WithPublishTimeout replaces the per-sink publish timeout. Non-positive
// values keep the default.
func (b *Bus) WithPublishTimeout(d time.Duration) *Bus {
	if d > 0 {
		b.timeout = d
	}
	return b
}

func (b *Bus) Publish(ctx context.Context, eventType string, data any) {
	if b == nil {
		return
	}
	env := New(eventType, data)
	for _, s := range b.sinks {
		if err := b.publish(ctx, s, env); err != nil {
			b.log.Warn("Event sink publish failed",
				zap.String("type", eventType),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) publish(ctx context.Context, s Sink, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return s.Publish(ctx, env)
}
