package stripe

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event is the decoded webhook envelope. It lives only for the duration of
// one request unless a transition derived from it is deferred.
type Event struct {
	ID     string    `json:"id"`
	Object string    `json:"object" validate:"required,eq=event"`
	Type   string    `json:"type" validate:"required"`
	Data   EventData `json:"data"`
}

// EventData wraps the affected gateway resource without interpreting it.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// PaymentIntent is the subset of the gateway payment-intent resource this
// service reads. The raw payload is persisted whole; these fields only drive
// correlation and the duplicate guard.
type PaymentIntent struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StatusRequiresPaymentMethod is the gateway-reported intent status marking a
// reset: the gateway reuses a failed or cancelled intent for a fresh attempt.
const StatusRequiresPaymentMethod = "requires_payment_method"

// ErrNotEvent is returned when the envelope object kind is not "event".
var ErrNotEvent = errors.New("stripe: payload is not an event")

// ParseEvent decodes and structurally validates a webhook envelope.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	if ev.Object != "event" {
		return nil, ErrNotEvent
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("stripe: event type is required")
	}
	return &ev, nil
}

// PaymentIntent decodes the wrapped resource as a payment intent. Charge
// events carry a payment_intent reference instead of an intent object; the
// returned intent then holds the referenced id and the charge status.
func (e *Event) PaymentIntent() (PaymentIntent, error) {
	if len(e.Data.Object) == 0 {
		return PaymentIntent{}, errors.New("stripe: event carries no resource")
	}
	var pi PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &pi); err != nil {
		return PaymentIntent{}, err
	}
	if pi.Object == "charge" {
		var charge struct {
			PaymentIntent string `json:"payment_intent"`
			Status        string `json:"status"`
		}
		if err := json.Unmarshal(e.Data.Object, &charge); err != nil {
			return PaymentIntent{}, err
		}
		if charge.PaymentIntent != "" {
			pi.ID = charge.PaymentIntent
		}
		pi.Status = charge.Status
	}
	if strings.TrimSpace(pi.ID) == "" {
		return PaymentIntent{}, errors.New("stripe: resource has no identifier")
	}
	return pi, nil
}

// IsPaymentIntentFamily reports whether the event type belongs to the
// payment-intent family, which is subject to the duplicate guard.
func IsPaymentIntentFamily(eventType string) bool {
	return strings.HasPrefix(eventType, "payment_intent.")
}
