package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Concurrent scheduling runs for the same account would race on the cursor
// and hand out overlapping slots, so runs are serialized per account. With
// redis available the lock spans processes; without it a process-local mutex
// map covers the single-writer deployment.

const accountLockKeyPrefix = "sendqueue:schedule-lock:"

// releaseScript deletes the lock only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AccountLocker serializes scheduling runs per account
type AccountLocker struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.Mutex
	local map[string]*sync.Mutex
}

// NewAccountLocker creates a locker backed by redis, or by process-local
// mutexes when client is nil
func NewAccountLocker(client *redis.Client, ttl time.Duration) *AccountLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &AccountLocker{
		client: client,
		ttl:    ttl,
		local:  make(map[string]*sync.Mutex),
	}
}

// Acquire blocks until the account lock is held or ctx is done, and returns
// the release function
func (l *AccountLocker) Acquire(ctx context.Context, accountID string) (func(), error) {
	if l.client == nil {
		return l.acquireLocal(accountID), nil
	}

	key := accountLockKeyPrefix + accountID
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire scheduling lock for account %s: %w", accountID, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scheduling lock for account %s: %w", accountID, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

func (l *AccountLocker) acquireLocal(accountID string) func() {
	l.mu.Lock()
	m, ok := l.local[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.local[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
