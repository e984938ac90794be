package stripe

import "encoding/json"

// ShouldApply decides whether a received payment-intent payload should drive
// a transition, given the payloads already recorded on the order keyed by
// status store key, and the store key of the status this event targets.
//
// The guard trusts the gateway's own identifiers over delivery order, because
// webhook delivery order is not guaranteed. Rules, in order:
//
//  1. More than one payload already stored across all statuses and the
//     received intent reports requires_payment_method: the gateway is reusing
//     a failed or cancelled intent for a fresh attempt, so the event applies.
//  2. The received payload id was already recorded under the target status:
//     replay of an already-processed event, discard. The scan is scoped to
//     the target status because an intent keeps one id across its lifecycle;
//     earlier transitions recorded under other statuses are not replays.
//  3. Otherwise apply.
func ShouldApply(received PaymentIntent, stored map[string][]json.RawMessage, targetKey string) bool {
	total := 0
	for _, payloads := range stored {
		total += len(payloads)
	}
	if total > 1 && received.Status == StatusRequiresPaymentMethod {
		return true
	}
	for _, raw := range stored[targetKey] {
		var prior struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &prior); err != nil {
			continue
		}
		if prior.ID != "" && prior.ID == received.ID {
			return false
		}
	}
	return true
}
