package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another request holds the per-delegate lock.
var ErrLockHeld = errors.New("delegate lock already held")

// DelegateLockKey builds the redis key serialising delegation grants for one
// delegate. Two concurrent grants for the same delegate must not both pass
// the SoD check against a stale role snapshot.
func DelegateLockKey(delegateID int64) string {
	return fmt.Sprintf("authz:delegate:%d:lock", delegateID)
}

// DelegateLocker serialises SoD-check-then-commit per delegate.
type DelegateLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDelegateLocker constructs a locker with the given hold TTL.
func NewDelegateLocker(client *redis.Client, ttl time.Duration) *DelegateLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &DelegateLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for delegateID or returns ErrLockHeld.
func (l *DelegateLocker) Acquire(ctx context.Context, delegateID int64) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("delegate locker not initialised")
	}
	key := DelegateLockKey(delegateID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire delegate lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Del(releaseCtx, key).Err()
	}
	return release, nil
}
