// Package deferred holds webhook-driven status transitions that arrived while
// an order was under a checkout hold. Entries are durable in Redis: a FIFO
// list per order plus a pending set scanned by the replay worker.
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Entry is one parked status transition awaiting replay.
type Entry struct {
	OrderID        uuid.UUID       `json:"order_id"`
	TargetStoreKey string          `json:"target_store_key"`
	PreviousStatus string          `json:"previous_status"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	GatewayRef     string          `json:"gateway_ref"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// Queue stores deferred entries in Redis.
type Queue struct {
	R      *redis.Client
	Prefix string
}

func (q Queue) orderKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:order:%s", q.prefix(), id)
}

func (q Queue) pendingKey() string {
	return q.prefix() + ":pending"
}

func (q Queue) prefix() string {
	if q.Prefix == "" {
		return "gw:deferred"
	}
	return q.Prefix
}

// Enqueue appends the entry to the order's FIFO list and marks the order
// pending. The pending score keeps first-enqueue order across orders.
func (q Queue) Enqueue(ctx context.Context, e Entry) error {
	if q.R == nil {
		return errors.New("deferred: redis client not configured")
	}
	if e.OrderID == uuid.Nil {
		return errors.New("deferred: order id is required")
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deferred: encode entry: %w", err)
	}
	pipe := q.R.TxPipeline()
	pipe.RPush(ctx, q.orderKey(e.OrderID), raw)
	pipe.ZAddNX(ctx, q.pendingKey(), redis.Z{
		Score:  float64(e.EnqueuedAt.UnixNano()),
		Member: e.OrderID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deferred: enqueue: %w", err)
	}
	return nil
}

// PendingOrders lists up to limit order ids whose entries are due, oldest
// first. Orders rescheduled by Defer stay invisible until their delay lapses.
func (q Queue) PendingOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	members, err := q.R.ZRangeByScore(ctx, q.pendingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", time.Now().UnixNano()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("deferred: pending orders: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			// Unparseable member cannot be replayed; drop it.
			_ = q.R.ZRem(ctx, q.pendingKey(), member).Err()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Pop removes and returns the oldest entry for the order. ok is false when
// the order has no entries left; the order is then cleared from pending.
func (q Queue) Pop(ctx context.Context, orderID uuid.UUID) (Entry, bool, error) {
	raw, err := q.R.LPop(ctx, q.orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		_ = q.R.ZRem(ctx, q.pendingKey(), orderID.String()).Err()
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("deferred: pop: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("deferred: decode entry: %w", err)
	}
	return e, true, nil
}

// PushFront returns an entry to the head of the order's list, preserving
// arrival order when a replay has to stop mid-drain.
func (q Queue) PushFront(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deferred: encode entry: %w", err)
	}
	pipe := q.R.TxPipeline()
	pipe.LPush(ctx, q.orderKey(e.OrderID), raw)
	pipe.ZAddNX(ctx, q.pendingKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: e.OrderID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deferred: push front: %w", err)
	}
	return nil
}

// Defer reschedules the order's pending scan after delay, used when the
// checkout hold is still active.
func (q Queue) Defer(ctx context.Context, orderID uuid.UUID, delay time.Duration) error {
	return q.R.ZAddXX(ctx, q.pendingKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixNano()),
		Member: orderID.String(),
	}).Err()
}

// Len reports how many entries are queued for the order.
func (q Queue) Len(ctx context.Context, orderID uuid.UUID) (int64, error) {
	n, err := q.R.LLen(ctx, q.orderKey(orderID)).Result()
	if err != nil {
		return 0, fmt.Errorf("deferred: len: %w", err)
	}
	return n, nil
}

// PendingCount reports how many orders currently have queued entries.
func (q Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.R.ZCard(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("deferred: pending count: %w", err)
	}
	return n, nil
}
