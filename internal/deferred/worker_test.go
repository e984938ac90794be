package deferred_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/the-events-calendar/commerce-gateway/internal/deferred"
	"github.com/the-events-calendar/commerce-gateway/internal/lock"
	"github.com/the-events-calendar/commerce-gateway/internal/order"
)

type holdStore struct {
	mu    sync.Mutex
	holds map[uuid.UUID]bool
}

func newHoldStore() *holdStore {
	return &holdStore{holds: map[uuid.UUID]bool{}}
}

func (s *holdStore) HasCheckoutHold(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.holds[id]
	if !ok {
		return false, order.ErrNotFound
	}
	return held, nil
}

func (s *holdStore) setHold(id uuid.UUID, held bool) {
	s.mu.Lock()
	s.holds[id] = held
	s.mu.Unlock()
}

func (s *holdStore) FindByGatewayOrderID(context.Context, string) (order.Order, error) {
	return order.Order{}, order.ErrNotFound
}

func (s *holdStore) GetByID(context.Context, uuid.UUID) (order.Order, error) {
	return order.Order{}, order.ErrNotFound
}

func (s *holdStore) ModifyStatus(context.Context, order.ModifyStatusParams) error {
	return nil
}

func (s *holdStore) SetCheckoutHold(_ context.Context, id uuid.UUID, held bool) error {
	s.setHold(id, held)
	return nil
}

type recordingReplayer struct {
	mu      sync.Mutex
	entries []deferred.Entry
	requeue bool
	err     error
}

func (r *recordingReplayer) Replay(_ context.Context, e deferred.Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.entries = append(r.entries, e)
	return r.requeue, nil
}

func (r *recordingReplayer) eventIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.EventID)
	}
	return out
}

func newWorker(t *testing.T, store *holdStore, replay *recordingReplayer) (deferred.Worker, deferred.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := deferred.Queue{R: client, Prefix: "test:deferred"}
	return deferred.Worker{
		Queue:          q,
		Orders:         store,
		Replay:         replay,
		Locker:         lock.Locker{R: client},
		Logger:         zerolog.Nop(),
		LockTTL:        time.Second,
		BatchSize:      10,
		HoldRetryDelay: time.Hour,
	}, q
}

func TestWorkerDrainsReleasedOrderInArrivalOrder(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	replay := &recordingReplayer{}
	w, q := newWorker(t, store, replay)
	ctx := context.Background()
	id := uuid.New()
	store.setHold(id, false)

	for _, eventID := range []string{"evt_1", "evt_2", "evt_3"} {
		e := entry(id, eventID)
		e.EnqueuedAt = time.Now().Add(-time.Minute)
		require.NoError(t, q.Enqueue(ctx, e))
	}

	require.NoError(t, w.WorkOnce(ctx))
	require.Equal(t, []string{"evt_1", "evt_2", "evt_3"}, replay.eventIDs())

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestWorkerKeepsEntriesWhileHeld(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	replay := &recordingReplayer{}
	w, q := newWorker(t, store, replay)
	ctx := context.Background()
	id := uuid.New()
	store.setHold(id, true)

	e := entry(id, "evt_1")
	e.EnqueuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(ctx, e))

	require.NoError(t, w.WorkOnce(ctx))
	require.Empty(t, replay.eventIDs())

	n, err := q.Len(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// The order was rescheduled, so the next pass skips it.
	pending, err := q.PendingOrders(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestWorkerRequeuesWhenHoldReappears(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	replay := &recordingReplayer{requeue: true}
	w, q := newWorker(t, store, replay)
	ctx := context.Background()
	id := uuid.New()
	store.setHold(id, false)

	e := entry(id, "evt_1")
	e.EnqueuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(ctx, e))

	require.NoError(t, w.WorkOnce(ctx))

	// The entry went back to the head of the queue.
	n, err := q.Len(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestWorkerRetainsEntryOnReplayFailure(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	replay := &recordingReplayer{err: errors.New("store down")}
	w, q := newWorker(t, store, replay)
	ctx := context.Background()
	id := uuid.New()
	store.setHold(id, false)

	e := entry(id, "evt_1")
	e.EnqueuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(ctx, e))

	require.Error(t, w.WorkOnce(ctx))

	n, err := q.Len(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestWorkerDiscardsEntriesForMissingOrder(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	replay := &recordingReplayer{}
	w, q := newWorker(t, store, replay)
	ctx := context.Background()
	id := uuid.New() // never registered in the store

	e := entry(id, "evt_1")
	e.EnqueuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(ctx, e))

	require.NoError(t, w.WorkOnce(ctx))
	require.Empty(t, replay.eventIDs())

	n, err := q.Len(ctx, id)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := newHoldStore()
	w, _ := newWorker(t, store, &recordingReplayer{})
	w.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
