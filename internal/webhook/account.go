package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/the-events-calendar/commerce-gateway/internal/stripe"
)

// Settings-store keys maintained by the account handler.
const (
	accountChargesKey = "stripe_account_charges_enabled"
	accountPayoutsKey = "stripe_account_payouts_enabled"
)

// NewAccountHandler returns the handler for account.updated events. Account
// link changes do not touch orders; they update the persisted gateway
// capability flags that admin tooling reads.
func NewAccountHandler(store stripe.SettingsStore, logger zerolog.Logger) *stripe.Handler {
	return &stripe.Handler{
		Name: "account-updated",
		Handle: func(ctx context.Context, ev *stripe.Event) error {
			var account struct {
				ID             string `json:"id"`
				ChargesEnabled bool   `json:"charges_enabled"`
				PayoutsEnabled bool   `json:"payouts_enabled"`
			}
			if err := json.Unmarshal(ev.Data.Object, &account); err != nil {
				return fmt.Errorf("decode account: %w", err)
			}
			if err := store.Set(ctx, accountChargesKey, boolValue(account.ChargesEnabled)); err != nil {
				return err
			}
			if err := store.Set(ctx, accountPayoutsKey, boolValue(account.PayoutsEnabled)); err != nil {
				return err
			}
			logger.Info().
				Str("account_id", account.ID).
				Bool("charges_enabled", account.ChargesEnabled).
				Bool("payouts_enabled", account.PayoutsEnabled).
				Msg("gateway account capabilities updated")
			return nil
		},
	}
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
