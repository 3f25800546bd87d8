package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// UserLocker serializes work on a single user's wallet.
type UserLocker interface {
	// LockUser blocks until the user's lock is held or ctx is done. The
	// returned function releases it and is safe to call once.
	LockUser(ctx context.Context, userID, owner string) (unlock func(), err error)
}

// RedisUserLocker works across service instances.
type RedisUserLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	logger        *zap.Logger
}

func NewRedisUserLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int, logger *zap.Logger) *RedisUserLocker {
	return &RedisUserLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

func (l *RedisUserLocker) LockUser(ctx context.Context, userID, owner string) (func(), error) {
	walletLock := NewWalletLock(l.client, userID, owner, l.ttl)
	if err := walletLock.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}

	return func() {
		// the caller's ctx may already be cancelled; the lock must still go
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := walletLock.Unlock(unlockCtx); err != nil {
			l.logger.Warn("release wallet lock failed",
				zap.String("user_id", userID),
				zap.String("owner", owner),
				zap.Error(err))
		}
	}, nil
}

// LocalUserLocker keeps a one-slot semaphore per user in process memory, so
// waiting can be abandoned when ctx ends. Only correct when a single
// instance writes to the ledger. A user's slot is dropped once nobody holds
// or waits for it, so memory follows the number of busy users.
type LocalUserLocker struct {
	mu    sync.Mutex
	slots map[string]*userSlot
}

type userSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{slots: make(map[string]*userSlot)}
}

func (l *LocalUserLocker) acquireSlot(userID string) *userSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[userID]
	if !ok {
		slot = &userSlot{sem: make(chan struct{}, 1)}
		l.slots[userID] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalUserLocker) releaseSlot(userID string, slot *userSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, userID)
	}
}

func (l *LocalUserLocker) LockUser(ctx context.Context, userID, _ string) (func(), error) {
	slot := l.acquireSlot(userID)
	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(userID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.releaseSlot(userID, slot)
		})
	}, nil
}

// size reports how many users currently have a slot.
func (l *LocalUserLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
