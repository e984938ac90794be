package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/the-events-calendar/commerce-gateway/internal/deferred"
	"github.com/the-events-calendar/commerce-gateway/internal/events"
	"github.com/the-events-calendar/commerce-gateway/internal/obs"
	"github.com/the-events-calendar/commerce-gateway/internal/order"
	"github.com/the-events-calendar/commerce-gateway/internal/status"
	"github.com/the-events-calendar/commerce-gateway/internal/stripe"
)

// Outcome classifies the terminal result of dispatching one status event.
type Outcome string

const (
	// OutcomeApplied means the order store persisted the transition.
	OutcomeApplied Outcome = "applied"
	// OutcomeDeferred means the transition was parked behind a checkout hold.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeNoOrder means no order matches the gateway identifier.
	OutcomeNoOrder Outcome = "no_order"
	// OutcomeStale means the duplicate guard rejected the event.
	OutcomeStale Outcome = "stale"
)

// Dispatcher drives order status transitions for classified gateway events.
type Dispatcher struct {
	Orders   order.Store
	Registry *status.Registry
	Queue    deferred.Queue
	Bus      *events.Bus
	Logger   zerolog.Logger
	// StoreTimeout bounds each order-store call so a slow database surfaces
	// as a retryable deadline error instead of stalling the delivery. Zero
	// leaves the request context in charge.
	StoreTimeout time.Duration
}

func (d *Dispatcher) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.StoreTimeout)
}

// Dispatch resolves the order behind the event and either applies the target
// status, defers it behind an active checkout hold, or reports why nothing
// happened. Only order-store failures surface as errors; every other result
// is a soft outcome the endpoint acknowledges with 200.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *stripe.Event, intent stripe.PaymentIntent, target status.Status) (Outcome, error) {
	findCtx, cancel := d.storeCtx(ctx)
	o, err := d.Orders.FindByGatewayOrderID(findCtx, intent.ID)
	cancel()
	if errors.Is(err, order.ErrNotFound) {
		// Events for orders outside this system's purview must not make
		// the gateway retry; acknowledging is the only useful response.
		return OutcomeNoOrder, nil
	}
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}

	if stripe.IsPaymentIntentFamily(ev.Type) &&
		!stripe.ShouldApply(intent, o.GatewayPayloads, target.StoreKey) {
		return OutcomeStale, nil
	}

	if o.OnCheckoutHold {
		if err := d.enqueue(ctx, ev, intent, target, o); err != nil {
			return "", err
		}
		return OutcomeDeferred, nil
	}

	writeCtx, cancel := d.storeCtx(ctx)
	err = d.Orders.ModifyStatus(writeCtx, order.ModifyStatusParams{
		OrderID:    o.ID,
		StatusSlug: target.Slug,
		PayloadKey: target.StoreKey,
		Payload:    ev.Data.Object,
		GatewayRef: intent.ID,
	})
	cancel()
	if errors.Is(err, order.ErrHeld) {
		// The hold appeared between the read and the conditional write;
		// the deferred path still guarantees the transition happens.
		if err := d.enqueue(ctx, ev, intent, target, o); err != nil {
			return "", err
		}
		return OutcomeDeferred, nil
	}
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}
	d.emit(ctx, o, target, ev, intent)
	return OutcomeApplied, nil
}

// Replay re-enters the dispatch flow for a parked entry, from the hold check
// onward. requeue=true means the order is held again and the entry must go
// back to the head of its queue.
func (d *Dispatcher) Replay(ctx context.Context, e deferred.Entry) (bool, error) {
	target, err := d.Registry.ByStoreKey(e.TargetStoreKey)
	if err != nil {
		// The registry no longer knows this status; the entry can never
		// apply, so drop it rather than wedge the order's queue.
		d.Logger.Error().
			Str("order_id", e.OrderID.String()).
			Str("target", e.TargetStoreKey).
			Msg("deferred entry references unknown status, dropping")
		return false, nil
	}
	readCtx, cancel := d.storeCtx(ctx)
	o, err := d.Orders.GetByID(readCtx, e.OrderID)
	cancel()
	if errors.Is(err, order.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if o.OnCheckoutHold {
		return true, nil
	}
	writeCtx, cancel := d.storeCtx(ctx)
	err = d.Orders.ModifyStatus(writeCtx, order.ModifyStatusParams{
		OrderID:    o.ID,
		StatusSlug: target.Slug,
		PayloadKey: target.StoreKey,
		Payload:    e.Payload,
		GatewayRef: e.GatewayRef,
	})
	cancel()
	if errors.Is(err, order.ErrHeld) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	d.emit(ctx, o, target, &stripe.Event{ID: e.EventID, Type: e.EventType}, stripe.PaymentIntent{ID: e.GatewayRef})
	return false, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, ev *stripe.Event, intent stripe.PaymentIntent, target status.Status, o order.Order) error {
	err := d.Queue.Enqueue(ctx, deferred.Entry{
		OrderID:        o.ID,
		TargetStoreKey: target.StoreKey,
		PreviousStatus: o.Status,
		EventID:        ev.ID,
		EventType:      ev.Type,
		GatewayRef:     intent.ID,
		Payload:        ev.Data.Object,
		EnqueuedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("defer %s: %w", ev.Type, err)
	}
	if obs.DeferredEnqueuedTotal != nil {
		obs.DeferredEnqueuedTotal.Inc()
	}
	if d.Bus != nil {
		if _, err := d.Bus.Emit(ctx, events.TopicWebhookDeferred, o.ID, map[string]any{
			"order_id":    o.ID.String(),
			"target":      target.Slug,
			"prev_status": o.Status,
			"event_type":  ev.Type,
		}); err != nil {
			d.Logger.Warn().Err(err).Msg("emit deferred event")
		}
	}
	return nil
}

func (d *Dispatcher) emit(ctx context.Context, o order.Order, target status.Status, ev *stripe.Event, intent stripe.PaymentIntent) {
	if d.Bus == nil {
		return
	}
	payload := map[string]any{
		"order_id":    o.ID.String(),
		"prev_status": o.Status,
		"status":      target.Slug,
		"gateway_ref": intent.ID,
		"event_id":    ev.ID,
		"event_type":  ev.Type,
	}
	if _, err := d.Bus.Emit(ctx, topicFor(target.Slug), o.ID, payload); err != nil {
		d.Logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("emit status event")
	}
}

func topicFor(slug string) string {
	switch slug {
	case status.SlugCompleted:
		return events.TopicOrderCompleted
	case status.SlugNotCompleted:
		return events.TopicOrderNotCompleted
	case status.SlugDenied:
		return events.TopicOrderDenied
	case status.SlugRefunded:
		return events.TopicOrderRefunded
	default:
		return events.TopicOrderStatusChanged
	}
}
