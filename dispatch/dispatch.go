// Package dispatch routes inbound command messages to registered handlers
// and normalizes every outcome into a uniform response envelope.
//
//	d := dispatch.New()
//	d.Register("get-inventory", agent.GetInventory)
//
//	env := d.Dispatch(ctx, dispatch.Message{Event: "get-inventory", Data: raw})
//
// Handlers never leak failures to the message caller: any error becomes a
// {success:false, error} envelope. Unrecognized event names are logged and
// produce no envelope at all — the caller sees silence, not an error.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Handler processes the data payload of one command message.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Message is an inbound command from the UI or content layer.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is the uniform command response. Exactly one of Payload and Error
// is meaningful, selected by Success.
type Envelope struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps a handler result in a success envelope.
func Ok(payload any) *Envelope {
	return &Envelope{Success: true, Payload: payload}
}

// Fail wraps a failure message in an error envelope.
func Fail(msg string) *Envelope {
	return &Envelope{Success: false, Error: msg}
}

// Dispatcher holds the event-name → handler table. Registration happens at
// startup; Dispatch is safe to call from the single event-consuming
// goroutine thereafter.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register binds a handler to an event name. Later registrations for the
// same name replace earlier ones.
func (d *Dispatcher) Register(event string, h Handler) {
	d.handlers[event] = h
}

// Dispatch routes one message. A nil return means the event name was not
// recognized and the caller should send no response.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) *Envelope {
	reqID := uuid.Must(uuid.NewV7()).String()

	h, ok := d.handlers[msg.Event]
	if !ok {
		d.logger.DebugContext(ctx, "dispatch: unrecognized event ignored",
			"event", msg.Event, "request_id", reqID)
		return nil
	}

	payload, err := h(ctx, msg.Data)
	if err != nil {
		d.logger.WarnContext(ctx, "dispatch: command failed",
			"event", msg.Event, "request_id", reqID, "error", err)
		return Fail(err.Error())
	}

	d.logger.DebugContext(ctx, "dispatch: command ok",
		"event", msg.Event, "request_id", reqID)
	return Ok(payload)
}
