package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Distributed lock
// ============================================================================
//
// Two requests for the same wallet must not interleave their
// read-validate-write cycles:
//
//	without lock:
//	  req1: read available=100 -> debit 100 -> write 0
//	  req2: read available=100 -> debit 100 -> write 0   (one debit lost)
//
//	with lock:
//	  req1: lock -> read 100 -> debit 100 -> write 0 -> unlock
//	  req2: wait... -> lock -> read 0 -> refused, insufficient funds
//
// Acquire: SET key value NX EX ttl
//   - NX makes it exclusive
//   - the TTL frees the lock if the holder dies
//   - value identifies the holder so only the holder can release it
//
// Release: Lua compare-and-delete, so a holder whose lock already expired
// cannot delete the next holder's lock.
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("failed to acquire lock")
	ErrLockExpired = errors.New("lock expired")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // holder identity
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if it is still ours. ErrLockExpired means the TTL
// ran out while we held it, so someone else may have run concurrently.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	deleted, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockExpired
	}
	return nil
}

// NewWalletLock one lock per user: different users never wait on each other.
func NewWalletLock(client *redis.Client, userID, owner string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, WalletLockKey(userID), owner, expiration)
}

func WalletLockKey(userID string) string {
	return fmt.Sprintf("wallet:lock:user:%s", userID)
}
