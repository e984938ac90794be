package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/the-events-calendar/commerce-gateway/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestTryLockRunsCallbackAndReleases(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t)
	ctx := context.Background()

	ran := false
	require.NoError(t, l.TryLock(ctx, "k", time.Second, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)

	// Released: a second acquisition succeeds immediately.
	require.NoError(t, l.TryLock(ctx, "k", time.Second, func(context.Context) error { return nil }))
}

func TestTryLockContention(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t)
	ctx := context.Background()

	err := l.TryLock(ctx, "k", time.Second, func(inner context.Context) error {
		return l.TryLock(inner, "k", time.Second, func(context.Context) error {
			t.Fatal("nested acquisition must not run")
			return nil
		})
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
}

func TestTryLockReleasesOnCallbackError(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.TryLock(ctx, "k", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	require.NoError(t, l.TryLock(ctx, "k", time.Second, func(context.Context) error { return nil }))
}

func TestTryLockDoesNotReleaseForeignToken(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t)
	ctx := context.Background()

	// Simulate another holder: the release script must leave this key alone.
	require.NoError(t, mr.Set("k", "someone-else"))
	err := l.TryLock(ctx, "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestWithLockWaitsForRelease(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, mr.Set("k", "holder"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		mr.Del("k")
	}()

	require.NoError(t, l.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil }))
}

func TestWithLockHonoursContext(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t)
	require.NoError(t, mr.Set("k", "holder"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryLockValidation(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t)
	require.Error(t, l.TryLock(context.Background(), "k", time.Second, nil))
	require.Error(t, lock.Locker{}.TryLock(context.Background(), "k", time.Second, func(context.Context) error { return nil }))
}
