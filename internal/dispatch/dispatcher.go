// Package dispatch delivers triggered events to live subscribers and
// records the outcome. Delivery is best-effort and two-phase: attempt the
// transport hand-off, then mark the originating record sent or failed. A
// failed delivery is terminal for that event; no retry happens within the
// cycle.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"price-pulse/internal/storage"
)

// Broadcaster is the real-time push transport. Both calls are
// fire-and-forget and may fail on transport errors.
type Broadcaster interface {
	BroadcastToAll(ctx context.Context, payload any) error
	BroadcastToUser(ctx context.Context, userID int64, payload any) error
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Sent   bool
	Reason string
}

func sent() Result { return Result{Sent: true} }

func failed(err error) Result { return Result{Reason: err.Error()} }

// EventMessage is the wire shape for a global alert event.
type EventMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Price    string `json:"price"`
	Change   string `json:"change_pct"`
}

// TriggerMessage is the wire shape for a user or watchlist alert firing.
type TriggerMessage struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Source      string `json:"source"`
	TargetPrice string `json:"target_price"`
	ActualPrice string `json:"actual_price"`
	Reason      string `json:"reason"`
}

// Dispatcher fans triggered events out to the transport and records
// delivery status.
type Dispatcher struct {
	transport Broadcaster
	events    storage.EventStore
	triggers  storage.TriggerStore
	method    string
	logger    zerolog.Logger
}

// NewDispatcher wires the notification dispatcher. method tags delivered
// history rows with the transport used.
func NewDispatcher(transport Broadcaster, events storage.EventStore, triggers storage.TriggerStore, method string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		events:    events,
		triggers:  triggers,
		method:    method,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchEvent broadcasts a global alert event to every live session and
// transitions its status pending -> sent|failed.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event storage.AlertEvent) Result {
	msg := EventMessage{
		Type:     "global_alert",
		ID:       event.ID,
		Symbol:   event.Symbol,
		Kind:     event.Kind,
		Severity: event.Severity,
		Message:  event.Message,
		Price:    event.TriggerValue.String(),
		Change:   event.PercentChange.String(),
	}

	result := d.attemptBroadcast(ctx, msg)
	d.recordEventOutcome(ctx, event, result)
	return result
}

// DispatchTrigger delivers a user-alert or watchlist firing to that
// user's live sessions and records the delivery flag on the history row.
func (d *Dispatcher) DispatchTrigger(ctx context.Context, trigger storage.AlertTrigger) Result {
	msg := TriggerMessage{
		Type:        "price_alert",
		ID:          trigger.ID,
		Symbol:      trigger.Symbol,
		Source:      trigger.Source,
		TargetPrice: trigger.TargetPrice.String(),
		ActualPrice: trigger.ActualPrice.String(),
		Reason:      trigger.Reason,
	}

	var result Result
	if err := d.transport.BroadcastToUser(ctx, trigger.UserID, msg); err != nil {
		result = failed(err)
	} else {
		result = sent()
	}

	d.recordTriggerOutcome(ctx, trigger, result)
	return result
}

func (d *Dispatcher) attemptBroadcast(ctx context.Context, payload any) Result {
	if err := d.transport.BroadcastToAll(ctx, payload); err != nil {
		return failed(err)
	}
	return sent()
}

func (d *Dispatcher) recordEventOutcome(ctx context.Context, event storage.AlertEvent, result Result) {
	status := storage.EventStatusSent
	var errMsg *string
	if !result.Sent {
		status = storage.EventStatusFailed
		reason := result.Reason
		errMsg = &reason
		d.logger.Warn().Str("event_id", event.ID).Str("symbol", event.Symbol).
			Str("reason", result.Reason).Msg("event delivery failed")
	}

	if err := d.events.UpdateEventStatus(ctx, event.ID, status, errMsg); err != nil {
		d.logger.Error().Err(err).Str("event_id", event.ID).Msg("recording event delivery outcome failed")
	}
}

func (d *Dispatcher) recordTriggerOutcome(ctx context.Context, trigger storage.AlertTrigger, result Result) {
	var method *string
	if result.Sent {
		method = &d.method
	} else {
		d.logger.Warn().Str("trigger_id", trigger.ID).Str("symbol", trigger.Symbol).
			Str("reason", result.Reason).Msg("trigger delivery failed")
	}

	if err := d.triggers.UpdateTriggerDelivery(ctx, trigger.ID, result.Sent, method); err != nil {
		d.logger.Error().Err(err).Str("trigger_id", trigger.ID).Msg("recording trigger delivery outcome failed")
	}
}
