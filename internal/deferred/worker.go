package deferred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/the-events-calendar/commerce-gateway/internal/lock"
	"github.com/the-events-calendar/commerce-gateway/internal/obs"
	"github.com/the-events-calendar/commerce-gateway/internal/order"
)

// Replayer re-enters the transition dispatcher for a parked entry. requeue
// reports that the order was held again mid-replay; the entry is returned to
// the head of its queue and the drain stops.
type Replayer interface {
	Replay(ctx context.Context, e Entry) (requeue bool, err error)
}

// Worker drains deferred entries once checkout holds clear.
type Worker struct {
	Queue        Queue
	Orders       order.Store
	Replay       Replayer
	Locker       lock.Locker
	Logger       zerolog.Logger
	PollInterval time.Duration
	LockTTL      time.Duration
	BatchSize    int
	// HoldRetryDelay postpones the next scan of a still-held order.
	HoldRetryDelay time.Duration
}

// Run polls for pending orders until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.Replay == nil {
		return errors.New("deferred: replayer not configured")
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.WorkOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.Logger.Error().Err(err).Msg("deferred replay pass failed")
			}
		}
	}
}

// WorkOnce performs a single scan-and-drain pass.
func (w Worker) WorkOnce(ctx context.Context) error {
	pending, err := w.Queue.PendingOrders(ctx, w.BatchSize)
	if err != nil {
		return err
	}
	if total, err := w.Queue.PendingCount(ctx); err == nil && obs.DeferredPendingOrders != nil {
		obs.DeferredPendingOrders.Set(float64(total))
	}
	var joined error
	for _, orderID := range pending {
		err := w.Locker.TryLock(ctx, w.lockKey(orderID), w.LockTTL, func(ctx context.Context) error {
			return w.drainOrder(ctx, orderID)
		})
		if errors.Is(err, lock.ErrNotAcquired) {
			continue
		}
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("drain %s: %w", orderID, err))
		}
	}
	return joined
}

// drainOrder replays the order's entries in arrival order. A still-held order
// keeps its entries and is rescheduled; a vanished order is cleared.
func (w Worker) drainOrder(ctx context.Context, orderID uuid.UUID) error {
	held, err := w.Orders.HasCheckoutHold(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		w.Logger.Warn().Str("order_id", orderID.String()).Msg("deferred entries for missing order dropped")
		return w.discard(ctx, orderID)
	}
	if err != nil {
		return err
	}
	if held {
		w.countReplay("held")
		return w.Queue.Defer(ctx, orderID, w.holdRetryDelay())
	}
	for {
		entry, ok, err := w.Queue.Pop(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		requeue, err := w.Replay.Replay(ctx, entry)
		if err != nil {
			w.countReplay("error")
			// Keep the entry for the next pass so a transient store
			// failure cannot lose the transition.
			if pushErr := w.Queue.PushFront(ctx, entry); pushErr != nil {
				return errors.Join(err, pushErr)
			}
			return err
		}
		if requeue {
			w.countReplay("requeued")
			if err := w.Queue.PushFront(ctx, entry); err != nil {
				return err
			}
			return w.Queue.Defer(ctx, orderID, w.holdRetryDelay())
		}
		w.countReplay("applied")
		w.Logger.Info().
			Str("order_id", orderID.String()).
			Str("event_type", entry.EventType).
			Str("target", entry.TargetStoreKey).
			Msg("deferred webhook replayed")
	}
}

func (w Worker) discard(ctx context.Context, orderID uuid.UUID) error {
	for {
		_, ok, err := w.Queue.Pop(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		w.countReplay("discarded")
	}
}

func (w Worker) lockKey(orderID uuid.UUID) string {
	return w.Queue.prefix() + ":lock:" + orderID.String()
}

func (w Worker) holdRetryDelay() time.Duration {
	if w.HoldRetryDelay <= 0 {
		return 5 * time.Second
	}
	return w.HoldRetryDelay
}

func (w Worker) countReplay(outcome string) {
	if obs.DeferredReplayTotal != nil {
		obs.DeferredReplayTotal.WithLabelValues(outcome).Inc()
	}
}
