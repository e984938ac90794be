package stripe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/the-events-calendar/commerce-gateway/internal/status"
)

// Gateway event types with a default classification.
const (
	EventPaymentIntentCreated       = "payment_intent.created"
	EventPaymentIntentProcessing    = "payment_intent.processing"
	EventPaymentIntentCapturable    = "payment_intent.amount_capturable_updated"
	EventPaymentIntentRequiresAct   = "payment_intent.requires_action"
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventChargeFailed               = "charge.failed"
	EventChargeRefunded             = "charge.refunded"
	EventAccountUpdated             = "account.updated"
)

// Action is the classification of one event type. Exactly one branch is set:
// a status transition, a free-form handler, or neither (ignored).
type Action struct {
	Status  status.Status
	Handler *Handler
}

// Handler reacts to non-status events such as account-link changes.
type Handler struct {
	Name   string
	Handle func(ctx context.Context, ev *Event) error
}

// IsStatus reports whether the action maps to an order status transition.
func (a Action) IsStatus() bool { return !a.Status.Zero() }

// IsHandler reports whether the action runs a registered handler.
func (a Action) IsHandler() bool { return a.Handler != nil }

// Ignored reports whether the event type has no registered effect.
func (a Action) Ignored() bool { return !a.IsStatus() && !a.IsHandler() }

// Classifier maps gateway event types to actions. It is assembled at boot
// and read-only afterwards; handlers receive it by reference.
type Classifier struct {
	actions map[string]Action
}

// NewClassifier builds the default classification table against the given
// status registry.
func NewClassifier(reg *status.Registry) (*Classifier, error) {
	c := &Classifier{actions: make(map[string]Action)}
	statusTable := map[string]string{
		EventPaymentIntentCreated:       status.SlugCreated,
		EventPaymentIntentProcessing:    status.SlugPending,
		EventPaymentIntentCapturable:    status.SlugPending,
		EventPaymentIntentRequiresAct:   status.SlugActionRequired,
		EventPaymentIntentSucceeded:     status.SlugCompleted,
		EventPaymentIntentCanceled:      status.SlugNotCompleted,
		EventPaymentIntentPaymentFailed: status.SlugNotCompleted,
		EventChargeFailed:               status.SlugDenied,
		EventChargeRefunded:             status.SlugRefunded,
	}
	for eventType, slug := range statusTable {
		target, err := reg.BySlug(slug)
		if err != nil {
			return nil, fmt.Errorf("classifier: %s: %w", eventType, err)
		}
		if err := c.Register(eventType, Action{Status: target}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register binds an event type to an action. This is the boot-time extension
// point; duplicate registrations are rejected rather than overwritten.
func (c *Classifier) Register(eventType string, action Action) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return errors.New("classifier: event type is required")
	}
	if action.IsStatus() && action.IsHandler() {
		return fmt.Errorf("classifier: %s: status and handler are mutually exclusive", eventType)
	}
	if action.Ignored() {
		return fmt.Errorf("classifier: %s: action must carry a status or a handler", eventType)
	}
	if _, exists := c.actions[eventType]; exists {
		return fmt.Errorf("classifier: %s already registered", eventType)
	}
	c.actions[eventType] = action
	return nil
}

// Classify returns the action for the event type. Unknown types return the
// zero Action, which reports Ignored.
func (c *Classifier) Classify(eventType string) Action {
	return c.actions[eventType]
}

// IsStatusEvent is true iff the type is a key of the status-mapping table
// specifically; handler-only registrations do not count.
func (c *Classifier) IsStatusEvent(eventType string) bool {
	return c.actions[eventType].IsStatus()
}

// Types returns all registered event types sorted, for diagnostics.
func (c *Classifier) Types() []string {
	out := make([]string, 0, len(c.actions))
	for t := range c.actions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
