// Package webhook is the boundary between the payment gateway and the order
// lifecycle: it authenticates inbound notifications, classifies them, and
// drives (or defers) the resulting status transitions.
package webhook

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/the-events-calendar/commerce-gateway/internal/common"
	"github.com/the-events-calendar/commerce-gateway/internal/obs"
	"github.com/the-events-calendar/commerce-gateway/internal/stripe"
)

// Handler receives gateway webhook calls. Request lifecycle:
// received -> authenticated -> classified -> {applied|deferred|ignored|rejected}.
type Handler struct {
	Secrets      stripe.SecretResolver
	Tolerance    time.Duration
	MaxBodyBytes int64
	Classifier   *stripe.Classifier
	Dispatcher   *Dispatcher
	Fingerprint  Fingerprint
	Logger       zerolog.Logger
	// Now is injectable for signature-window tests; defaults to time.Now.
	Now func() time.Time
}

// Handle processes one webhook delivery. Everything short of a downstream
// store failure resolves to 2xx: the gateway retries on non-2xx, and retrying
// cannot help a request this service already understood and declined.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Classifier == nil || h.Dispatcher == nil {
		common.RenderError(w, common.NewAppError("WEBHOOK_NOT_CONFIGURED", "webhook unavailable", http.StatusInternalServerError, nil))
		return
	}
	ctx := r.Context()

	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.count("rejected")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	secret, err := h.Secrets.Resolve(ctx)
	if err != nil && !errors.Is(err, stripe.ErrNoSecret) {
		h.count("error")
		common.RenderError(w, common.NewAppError("SECRET_STORE_ERROR", "signing secret unavailable", http.StatusInternalServerError, err))
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	// A missing secret leaves secret empty, which verifies false. No detail
	// about why verification failed leaves this handler.
	if !stripe.VerifySignature(r.Header.Get(stripe.SignatureHeader), body, secret, now(), h.Tolerance) {
		h.count("rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if err := h.Fingerprint.Record(ctx, secret); err != nil {
		h.Logger.Warn().Err(err).Msg("record webhook fingerprint")
	}

	ev, err := stripe.ParseEvent(body)
	if err != nil {
		h.count("rejected")
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_EVENT", "payload is not a gateway event", nil)
		return
	}

	action := h.Classifier.Classify(ev.Type)
	switch {
	case action.Ignored():
		h.count("ignored")
		common.Ack(w, fmt.Sprintf("unhandled event type %q, no action taken", ev.Type))
	case action.IsHandler():
		if err := action.Handler.Handle(ctx, ev); err != nil {
			h.Logger.Error().Err(err).Str("event_type", ev.Type).Str("handler", action.Handler.Name).Msg("event handler failed")
			h.count("error")
			common.RenderError(w, common.NewAppError("HANDLER_ERROR", "event handler failed", http.StatusInternalServerError, err))
			return
		}
		h.count("handled")
		common.Ack(w, fmt.Sprintf("event %q handled", ev.Type))
	default:
		h.dispatchStatus(w, r, ev, action)
	}
}

func (h *Handler) dispatchStatus(w http.ResponseWriter, r *http.Request, ev *stripe.Event, action stripe.Action) {
	intent, err := ev.PaymentIntent()
	if err != nil {
		h.count("rejected")
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_RESOURCE", "event resource is unusable", nil)
		return
	}
	outcome, err := h.Dispatcher.Dispatch(r.Context(), ev, intent, action.Status)
	if err != nil {
		h.Logger.Error().Err(err).Str("event_type", ev.Type).Msg("dispatch failed")
		h.count("error")
		h.countEvent(ev.Type, "error")
		if !common.IsAppError(err) {
			err = common.NewAppError("STORE_ERROR", "order store failure", http.StatusInternalServerError, err)
		}
		// Non-2xx makes the gateway retry; the duplicate guard makes the
		// retry safe once the store recovers.
		common.RenderError(w, err)
		return
	}
	h.count(string(outcome))
	h.countEvent(ev.Type, string(outcome))
	switch outcome {
	case OutcomeApplied:
		common.Ack(w, fmt.Sprintf("order updated to %q", action.Status.Slug))
	case OutcomeDeferred:
		common.Ack(w, "order is completing checkout, transition deferred")
	case OutcomeNoOrder:
		common.Ack(w, fmt.Sprintf("no order matches gateway reference %q", intent.ID))
	case OutcomeStale:
		common.Ack(w, fmt.Sprintf("event %q already processed", ev.ID))
	default:
		common.Ack(w, "event processed")
	}
}

func (h *Handler) count(state string) {
	if obs.GatewayWebhookTotal != nil {
		obs.GatewayWebhookTotal.WithLabelValues(state).Inc()
	}
}

func (h *Handler) countEvent(eventType, outcome string) {
	if obs.GatewayEventTotal != nil {
		obs.GatewayEventTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
