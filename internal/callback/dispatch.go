package callback

import (
	"context"
	"errors"
	"log/slog"
)

// Handler consumes decrypted events.
type Handler interface {
	HandleEvent(ctx context.Context, tenantID string, ev *Event) error
}

type HandlerFunc func(ctx context.Context, tenantID string, ev *Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, tenantID string, ev *Event) error {
	return f(ctx, tenantID, ev)
}

// Mux routes events by Kind. Nil routes drop the event.
type Mux struct {
	ContactChange         Handler
	ExternalContactChange Handler
	TextMessage           Handler
	Unhandled             Handler
}

func (m *Mux) HandleEvent(ctx context.Context, tenantID string, ev *Event) error {
	var h Handler
	switch ev.Kind {
	case KindContactChange:
		h = m.ContactChange
	case KindExternalContactChange:
		h = m.ExternalContactChange
	case KindTextMessage:
		h = m.TextMessage
	case KindUnhandled:
		h = m.Unhandled
	}
	if h == nil {
		slog.Debug("callback event dropped", "tenant", tenantID, "kind", ev.Kind, "msg_type", ev.MsgType, "event", ev.Event)
		return nil
	}
	return h.HandleEvent(ctx, tenantID, ev)
}

// Fanout delivers to every handler and joins their errors.
type Fanout []Handler

func (f Fanout) HandleEvent(ctx context.Context, tenantID string, ev *Event) error {
	var errs []error
	for _, h := range f {
		if err := h.HandleEvent(ctx, tenantID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogHandler records events at info level.
var LogHandler = HandlerFunc(func(_ context.Context, tenantID string, ev *Event) error {
	slog.Info("callback event",
		"tenant", tenantID,
		"kind", ev.Kind.String(),
		"event", ev.Event,
		"change_type", ev.ChangeType,
	)
	return nil
})
