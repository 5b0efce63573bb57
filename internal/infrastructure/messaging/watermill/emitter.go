// Package watermill fans user lifecycle events out to in-process subscribers
// over a gochannel pub/sub. Every subscriber gets its own copy; a slow or
// failing subscriber never propagates back into the emitting operation.
package watermill

import (
	"context"
	"encoding/json"

	wmill "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/domain"
)

// Topic carries every lifecycle event; the event name rides in metadata.
const Topic = "user.events"

const metaKeyName = "name"

// Emitter implements the user service's event port.
type Emitter struct {
	ch  *gochannel.GoChannel
	log zerolog.Logger
}

func NewEmitter(lg zerolog.Logger) *Emitter {
	lg = lg.With().Str("component", "event_emitter").Logger()
	ch := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		newLoggerAdapter(lg),
	)
	return &Emitter{ch: ch, log: lg}
}

// Emit publishes one event. Subscribers registered at wiring time each
// receive their own copy.
func (e *Emitter) Emit(_ context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(wmill.NewUUID(), payload)
	msg.Metadata.Set(metaKeyName, ev.Name)
	return e.ch.Publish(Topic, msg)
}

// Subscribe runs handler for every event until ctx ends or the emitter
// closes. Handler panics and decode failures are logged and acknowledged;
// event consumers are observers rather than participants.
func (e *Emitter) Subscribe(ctx context.Context, name string, handler func(domain.Event)) error {
	messages, err := e.ch.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			var ev domain.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				e.log.Error().Err(err).Str("subscriber", name).Str("msg_id", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			e.deliver(name, handler, ev)
			msg.Ack()
		}
		e.log.Debug().Str("subscriber", name).Msg("event loop ended")
	}()
	return nil
}

func (e *Emitter) deliver(name string, handler func(domain.Event), ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("subscriber", name).Str("event", ev.Name).Any("panic", r).Msg("event subscriber panicked")
		}
	}()
	handler(ev)
}

func (e *Emitter) Close() error {
	return e.ch.Close()
}

// loggerAdapter routes watermill's internal logging through zerolog.
type loggerAdapter struct {
	lg zerolog.Logger
}

func newLoggerAdapter(lg zerolog.Logger) loggerAdapter {
	return loggerAdapter{lg: lg}
}

func (a loggerAdapter) Error(msg string, err error, fields wmill.LogFields) {
	a.event(a.lg.Error().Err(err), fields).Msg(msg)
}

func (a loggerAdapter) Info(msg string, fields wmill.LogFields) {
	a.event(a.lg.Info(), fields).Msg(msg)
}

func (a loggerAdapter) Debug(msg string, fields wmill.LogFields) {
	a.event(a.lg.Debug(), fields).Msg(msg)
}

func (a loggerAdapter) Trace(msg string, fields wmill.LogFields) {
	a.event(a.lg.Trace(), fields).Msg(msg)
}

func (a loggerAdapter) With(fields wmill.LogFields) wmill.LoggerAdapter {
	ctx := a.lg.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return loggerAdapter{lg: ctx.Logger()}
}

func (a loggerAdapter) event(ev *zerolog.Event, fields wmill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
