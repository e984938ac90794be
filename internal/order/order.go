// Package order defines the order contract this service consumes. Orders are
// created by checkout initiation elsewhere; gateway-driven mutations flow
// exclusively through Store.ModifyStatus.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order: not found")

// ErrHeld is returned when a status modification is refused because the
// order is under a checkout hold. The caller is expected to defer.
var ErrHeld = errors.New("order: checkout hold active")

// Order is the view of an order row consumed by the webhook pipeline.
type Order struct {
	ID             uuid.UUID
	Status         string
	GatewayOrderID string
	// GatewayPayloads holds every raw gateway payload previously recorded,
	// keyed by status store key. Append-only: transitions add entries and
	// never overwrite history.
	GatewayPayloads map[string][]json.RawMessage
	OnCheckoutHold  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ModifyStatusParams carries one gateway-driven status transition.
type ModifyStatusParams struct {
	OrderID uuid.UUID
	// StatusSlug is the public slug of the target status.
	StatusSlug string
	// PayloadKey is the target status store key under which the raw gateway
	// payload is appended.
	PayloadKey string
	// Payload is the full raw gateway payload for the transition.
	Payload json.RawMessage
	// GatewayRef is the gateway's own identifier for the payment attempt.
	GatewayRef string
}

// Store is the order persistence contract. Implementations must make
// ModifyStatus atomic with the checkout-hold check: a held order yields
// ErrHeld without any mutation.
type Store interface {
	FindByGatewayOrderID(ctx context.Context, gatewayID string) (Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (Order, error)
	ModifyStatus(ctx context.Context, p ModifyStatusParams) error
	HasCheckoutHold(ctx context.Context, id uuid.UUID) (bool, error)
	SetCheckoutHold(ctx context.Context, id uuid.UUID, held bool) error
}
