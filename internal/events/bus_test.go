package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/the-events-calendar/commerce-gateway/internal/events"
)

type memStore struct {
	inserted []events.Event
	err      error
}

func (s *memStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload json.RawMessage) (events.Event, error) {
	if s.err != nil {
		return events.Event{}, s.err
	}
	ev := events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload}
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

type memNotifier struct {
	seen []events.Event
	err  error
}

func (n *memNotifier) Notify(_ context.Context, ev events.Event) error {
	n.seen = append(n.seen, ev)
	return n.err
}

func TestBusEmitPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	notifier := &memNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	aggregate := uuid.New()
	ev, err := bus.Emit(context.Background(), events.TopicOrderCompleted, aggregate, map[string]any{"status": "completed"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderCompleted, ev.Topic)
	require.Equal(t, aggregate, ev.AggregateID)
	require.JSONEq(t, `{"status":"completed"}`, string(ev.Payload))
	require.Len(t, store.inserted, 1)
	require.Len(t, notifier.seen, 1)
}

func TestBusEmitJoinsNotifierFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("smtp down")
	store := &memStore{}
	failing := &memNotifier{err: boom}
	healthy := &memNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{failing, healthy}}

	_, err := bus.Emit(context.Background(), events.TopicOrderDenied, uuid.New(), nil)
	require.ErrorIs(t, err, boom)

	// The event is persisted and every notifier still runs.
	require.Len(t, store.inserted, 1)
	require.Len(t, healthy.seen, 1)
}

func TestBusEmitValidation(t *testing.T) {
	t.Parallel()

	bus := &events.Bus{Store: &memStore{}}

	_, err := bus.Emit(context.Background(), "  ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderCompleted, uuid.Nil, nil)
	require.Error(t, err)

	_, err = (&events.Bus{}).Emit(context.Background(), events.TopicOrderCompleted, uuid.New(), nil)
	require.Error(t, err)
}

func TestBusEmitPayloadEncoding(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	bus := &events.Bus{Store: store}

	ev, err := bus.Emit(context.Background(), events.TopicOrderStatusChanged, uuid.New(), json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(ev.Payload))

	ev, err = bus.Emit(context.Background(), events.TopicOrderStatusChanged, uuid.New(), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(ev.Payload))

	_, err = bus.Emit(context.Background(), events.TopicOrderStatusChanged, uuid.New(), json.RawMessage(`{broken`))
	require.Error(t, err)
}

func TestBusEmitStoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("pg down")
	notifier := &memNotifier{}
	bus := &events.Bus{Store: &memStore{err: boom}, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicOrderCompleted, uuid.New(), nil)
	require.ErrorIs(t, err, boom)
	require.Empty(t, notifier.seen)
}
