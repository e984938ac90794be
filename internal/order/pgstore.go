package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a Store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const orderColumns = `id, status, COALESCE(gateway_order_id, ''), gateway_payload, on_checkout_hold, created_at, updated_at`

// FindByGatewayOrderID resolves an order by the gateway payment identifier.
func (s *PGStore) FindByGatewayOrderID(ctx context.Context, gatewayID string) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayID)
	return scanOrder(row)
}

// GetByID fetches an order by primary key.
func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// ModifyStatus applies one gateway-driven transition. The update sets the new
// status and appends the raw payload under the status store key in a single
// statement conditioned on the checkout hold being clear, so the hold check
// cannot race the write. Returns ErrHeld when the hold refused the update.
func (s *PGStore) ModifyStatus(ctx context.Context, p ModifyStatusParams) error {
	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage("{}")
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE orders
SET status = $2,
    gateway_payload = jsonb_set(
        gateway_payload,
        ARRAY[$3]::text[],
        COALESCE(gateway_payload -> $3, '[]'::jsonb) || $4::jsonb,
        true),
    updated_at = now()
WHERE id = $1 AND on_checkout_hold = FALSE`,
		p.OrderID, p.StatusSlug, p.PayloadKey, string(p.Payload))
	if err != nil {
		return fmt.Errorf("order: modify status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	held, err := s.HasCheckoutHold(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if held {
		return ErrHeld
	}
	return ErrNotFound
}

// HasCheckoutHold reports whether the buyer's session currently holds the order.
func (s *PGStore) HasCheckoutHold(ctx context.Context, id uuid.UUID) (bool, error) {
	var held bool
	err := s.Pool.QueryRow(ctx,
		`SELECT on_checkout_hold FROM orders WHERE id = $1`, id).Scan(&held)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("order: checkout hold: %w", err)
	}
	return held, nil
}

// SetCheckoutHold flips the checkout hold flag. The interactive checkout path
// owns this in production; tests and tooling use it directly.
func (s *PGStore) SetCheckoutHold(ctx context.Context, id uuid.UUID, held bool) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET on_checkout_hold = $2, updated_at = now() WHERE id = $1`, id, held)
	if err != nil {
		return fmt.Errorf("order: set checkout hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o       Order
		payload []byte
	)
	err := row.Scan(&o.ID, &o.Status, &o.GatewayOrderID, &payload, &o.OnCheckoutHold, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("order: scan: %w", err)
	}
	o.GatewayPayloads = map[string][]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &o.GatewayPayloads); err != nil {
			return Order{}, fmt.Errorf("order: decode gateway payload: %w", err)
		}
	}
	return o, nil
}
