package testutil

import (
	"context"

	"whatsapp-automation/internal/events"
)

// Recorder is an events.Sink keeping envelopes in memory.
type Recorder struct {
	ch chan events.Envelope
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan events.Envelope, size)}
}

func (r *Recorder) Publish(_ context.Context, env events.Envelope) error {
	select {
	case r.ch <- env:
	default:
	}
	return nil
}

func (r *Recorder) Events() <-chan events.Envelope {
	return r.ch
}

// Types drains the recorder and returns the event types seen so far.
func (r *Recorder) Types() []string {
	var out []string
	for {
		select {
		case env := <-r.ch:
			out = append(out, env.Meta.Type)
		default:
			return out
		}
	}
}
