package channel

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"linerelay/pkg/bus"
	"linerelay/pkg/provider"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "linerelay/channel"

// Outcome is the terminal state of one dispatched event.
type Outcome string

const (
	OutcomeFiltered         Outcome = "filtered"
	OutcomeDegraded         Outcome = "degraded"
	OutcomeReplied          Outcome = "replied"
	OutcomeRepliedWithError Outcome = "replied_with_error"
	OutcomeFailed           Outcome = "failed"
)

// Dispatcher turns one actionable Event into at most one reply. Events are
// independent: a failure or panic in one never reaches another.
type Dispatcher struct {
	replier   Replier
	completer provider.Completer
	bus       *bus.Bus
	log       *slog.Logger
	tracer    trace.Tracer

	inflight sync.WaitGroup
}

// NewDispatcher wires the shared clients. A nil completer means no completion
// credential is configured; a nil or unconfigured replier disables replies.
func NewDispatcher(replier Replier, completer provider.Completer, eventBus *bus.Bus, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		replier:   replier,
		completer: completer,
		bus:       eventBus,
		log:       log.With("component", "channel.dispatcher"),
		tracer:    otel.Tracer(tracerName),
	}
}

// Go processes event on its own goroutine, detached from ctx cancellation.
// Panics are recovered and logged.
func (d *Dispatcher) Go(ctx context.Context, event Event) {
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		ctx, span := d.tracer.Start(ctx, "channel.dispatch", trace.WithAttributes(
			attribute.String("channel", event.Channel),
			attribute.String("event.type", event.Type),
			attribute.String("message.type", event.MessageType),
		))
		defer span.End()

		defer func() {
			if recovered := recover(); recovered != nil {
				err := fmt.Errorf("panic: %v", recovered)
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")
				d.eventLogger(event).Error("Event handler panicked", "error", err, "stack", string(debug.Stack()))
				d.publish(ctx, bus.EventPanicked, event, err)
			}
		}()

		outcome := d.Handle(ctx, event)
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome == OutcomeFailed {
			span.SetStatus(codes.Error, string(outcome))
		}
	}()
}

// Handle runs one event to its terminal state on the calling goroutine.
func (d *Dispatcher) Handle(ctx context.Context, event Event) Outcome {
	log := d.eventLogger(event)
	log.Info("Handling event", "type", event.Type, "message_type", event.MessageType)
	d.publish(ctx, bus.EventReceived, event, nil)

	if !event.Actionable() {
		d.publish(ctx, bus.EventFiltered, event, nil)
		return OutcomeFiltered
	}

	if d.replier == nil || !d.replier.Configured() {
		log.Warn("Reply client not configured, skipping reply")
		d.publish(ctx, bus.EventDegraded, event, nil)
		return OutcomeDegraded
	}

	log.Info("Received message", "content", PreviewText(event.Text))
	reply, outcome := d.complete(ctx, log, event.Text)

	if err := d.replier.Reply(ctx, event.ReplyToken, reply); err != nil {
		log.Error("Failed to send reply", "error", err)
		d.publish(ctx, bus.EventReplyFailed, event, err)
		return OutcomeFailed
	}

	log.Info("Sent reply", "outcome", outcome, "content", PreviewText(reply))
	d.publish(ctx, bus.EventReplySent, event, nil)
	return outcome
}

func (d *Dispatcher) complete(ctx context.Context, log *slog.Logger, text string) (string, Outcome) {
	if d.completer == nil {
		return provider.MissingKeyReply, OutcomeRepliedWithError
	}

	reply, err := d.completer.Complete(ctx, text)
	if err != nil {
		log.Error("Completion failed", "kind", provider.Classify(err), "error", err)
		return provider.ReplyText(err), OutcomeRepliedWithError
	}

	return reply, OutcomeReplied
}

// Wait blocks until every event started with Go has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) eventLogger(event Event) *slog.Logger {
	return d.log.With("channel", event.Channel, "delivery_id", event.DeliveryID)
}

func (d *Dispatcher) publish(ctx context.Context, eventType bus.EventType, event Event, err error) {
	msg := bus.Event{
		Type:       eventType,
		Channel:    event.Channel,
		DeliveryID: event.DeliveryID,
		Payload: map[string]string{
			"type":         event.Type,
			"message_type": event.MessageType,
		},
	}
	if err != nil {
		msg.Error = err.Error()
	}

	d.bus.Publish(ctx, msg)
}
