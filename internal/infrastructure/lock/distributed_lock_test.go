package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedLock_Exclusive(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := NewWalletLock(client, "u1", "req-1", time.Minute)
	second := NewWalletLock(client, "u1", "req-2", time.Minute)
	other := NewWalletLock(client, "u2", "req-3", time.Minute)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same user must be exclusive")

	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "different users must not block each other")

	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_UnlockOnlyOwn(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	holder := NewWalletLock(client, "u1", "req-1", time.Second)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// holder's TTL runs out and someone else takes the lock
	mr.FastForward(2 * time.Second)
	next := NewWalletLock(client, "u1", "req-2", time.Minute)
	ok, err = next.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, holder.Unlock(ctx), ErrLockExpired)

	value, err := mr.Get(WalletLockKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, "req-2", value)
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	_, err := NewWalletLock(client, "u1", "req-1", time.Minute).TryLock(ctx)
	require.NoError(t, err)

	err = NewWalletLock(client, "u1", "req-2", time.Minute).Lock(ctx, time.Millisecond, 3)
	require.ErrorIs(t, err, ErrLockFailed)
}

func TestRedisUserLocker(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisUserLocker(client, time.Minute, 5*time.Millisecond, 200, zap.NewNop())
	ctx := context.Background()

	unlock, err := locker.LockUser(ctx, "u1", "a")
	require.NoError(t, err)
	assert.True(t, mr.Exists(WalletLockKey("u1")))

	acquired := make(chan struct{})
	go func() {
		unlock2, err := locker.LockUser(ctx, "u1", "b")
		if err == nil {
			close(acquired)
			unlock2()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while it was held")
	case <-time.After(30 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}
