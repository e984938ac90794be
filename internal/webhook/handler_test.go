package webhook_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/the-events-calendar/commerce-gateway/internal/order"
	"github.com/the-events-calendar/commerce-gateway/internal/status"
	"github.com/the-events-calendar/commerce-gateway/internal/stripe"
	"github.com/the-events-calendar/commerce-gateway/internal/webhook"
)

const testSecret = "whsec_handler_test"

type settingsStub struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (s *settingsStub) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *settingsStub) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	return nil
}

func newHandler(t *testing.T, store *memOrderStore) (*webhook.Handler, *memEventStore) {
	t.Helper()
	eventStore := &memEventStore{}
	classifier, err := stripe.NewClassifier(status.DefaultRegistry())
	require.NoError(t, err)
	return &webhook.Handler{
		Secrets:    stripe.SecretResolver{Override: testSecret},
		Tolerance:  5 * time.Minute,
		Classifier: classifier,
		Dispatcher: newDispatcher(t, store, eventStore),
		Logger:     zerolog.Nop(),
	}, eventStore
}

func signedRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(stripe.SignatureHeader, stripe.BuildSignatureHeader(testSecret, []byte(body), time.Now()))
	return req
}

func succeededBody(ref string) string {
	return `{
		"id": "evt_` + ref + `",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "` + ref + `", "object": "payment_intent", "status": "succeeded"}}
	}`
}

func TestHandleAppliesTransition(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	store := newMemOrderStore(&order.Order{ID: id, Status: status.SlugPending, GatewayOrderID: "pi_1"})
	h, _ := newHandler(t, store)

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_1")))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"received":true`)
	require.Contains(t, rr.Body.String(), "completed")

	got, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, status.SlugCompleted, got.Status)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	body := succeededBody("pi_1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(stripe.SignatureHeader, stripe.BuildSignatureHeader("whsec_wrong", []byte(body), time.Now()))
	rr := httptest.NewRecorder()
	h.Handle(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_SIGNATURE")
}

func TestHandleRejectsStaleSignature(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	body := succeededBody("pi_1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(stripe.SignatureHeader, stripe.BuildSignatureHeader(testSecret, []byte(body), time.Now().Add(-6*time.Minute)))
	rr := httptest.NewRecorder()
	h.Handle(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleRejectsMissingSignature(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(succeededBody("pi_1")))
	rr := httptest.NewRecorder()
	h.Handle(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleNoSecretConfigured(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	h.Secrets = stripe.SecretResolver{}

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_1")))

	// No secret means nothing can verify; the caller is unauthorized, not
	// told why.
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleSecretStoreFailure(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	h.Secrets = stripe.SecretResolver{Store: &settingsStub{err: errors.New("pg down")}}

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_1")))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "SECRET_STORE_ERROR")
}

func TestHandleUnhandledEventTypeAcknowledged(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	body := `{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "unhandled event type")
}

func TestHandleRejectsNonEventPayload(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	body := `{"id":"pi_1","object":"payment_intent","type":"x"}`

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "MALFORMED_EVENT")
}

func TestHandleRejectsResourceWithoutIdentifier(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	body := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"object":"payment_intent","status":"succeeded"}}}`

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "MALFORMED_RESOURCE")
}

func TestHandleUnknownOrderAcknowledged(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_unknown")))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "no order matches")
}

func TestHandleDefersDuringCheckoutHold(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	store := newMemOrderStore(&order.Order{ID: id, Status: status.SlugPending, GatewayOrderID: "pi_1", OnCheckoutHold: true})
	h, _ := newHandler(t, store)

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_1")))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "deferred")

	n, err := h.Dispatcher.Queue.Len(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestHandleDuplicateDeliveryAcknowledged(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	store := newMemOrderStore(&order.Order{ID: id, Status: status.SlugPending, GatewayOrderID: "pi_1"})
	h, _ := newHandler(t, store)

	first := httptest.NewRecorder()
	h.Handle(first, signedRequest(succeededBody("pi_1")))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.Handle(second, signedRequest(succeededBody("pi_1")))
	require.Equal(t, http.StatusOK, second.Code)
	require.Contains(t, second.Body.String(), "already processed")

	got, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got.GatewayPayloads["tec-tc-completed"], 1)
}

func TestHandleStoreFailureAsksForRetry(t *testing.T) {
	t.Parallel()

	store := newMemOrderStore(&order.Order{ID: uuid.New(), Status: status.SlugPending, GatewayOrderID: "pi_1"})
	store.failModify = errors.New("pg down")
	h, _ := newHandler(t, store)

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(succeededBody("pi_1")))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "STORE_ERROR")
}

func TestHandleOversizedBodyRejected(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	h.MaxBodyBytes = 64
	body := succeededBody("pi_1")

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_BODY")
}

func TestHandleAccountUpdated(t *testing.T) {
	t.Parallel()

	settings := &settingsStub{}
	h, _ := newHandler(t, newMemOrderStore())
	require.NoError(t, h.Classifier.Register(stripe.EventAccountUpdated, stripe.Action{
		Handler: webhook.NewAccountHandler(settings, zerolog.Nop()),
	}))

	body := `{
		"id": "evt_acct",
		"object": "event",
		"type": "account.updated",
		"data": {"object": {"id": "acct_1", "object": "account", "charges_enabled": true, "payouts_enabled": false}}
	}`
	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusOK, rr.Code)
	charges, ok, err := settings.Lookup(context.Background(), "stripe_account_charges_enabled")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", charges)
	payouts, _, err := settings.Lookup(context.Background(), "stripe_account_payouts_enabled")
	require.NoError(t, err)
	require.Equal(t, "0", payouts)
}

func TestHandleHandlerFailure(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t, newMemOrderStore())
	require.NoError(t, h.Classifier.Register("account.updated", stripe.Action{
		Handler: &stripe.Handler{
			Name:   "failing",
			Handle: func(context.Context, *stripe.Event) error { return errors.New("boom") },
		},
	}))
	body := `{"id":"evt_1","object":"event","type":"account.updated","data":{"object":{}}}`

	rr := httptest.NewRecorder()
	h.Handle(rr, signedRequest(body))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "HANDLER_ERROR")
}

func TestHandleWithoutWiringFailsClosed(t *testing.T) {
	t.Parallel()

	h := &webhook.Handler{Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	h.Handle(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader("{}")))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "WEBHOOK_NOT_CONFIGURED")
}
