package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wecom:token:refresh:"

// Locker guards token refreshes so that one replica calls the vendor per app.
type Locker interface {
	// AcquireRefreshLock returns true if the caller now holds the lock.
	AcquireRefreshLock(ctx context.Context, appID string, ttl time.Duration) (bool, error)
	ReleaseRefreshLock(ctx context.Context, appID string) error
}

// releaseScript deletes the key only if it still carries our owner value,
// so a lock that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker using SET NX PX with an owner value.
type RedisLocker struct {
	rdb   redis.UniversalClient
	owner string
}

func New(rdb redis.UniversalClient) *RedisLocker {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return &RedisLocker{rdb: rdb, owner: hex.EncodeToString(b)}
}

func (l *RedisLocker) AcquireRefreshLock(ctx context.Context, appID string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, keyPrefix+appID, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) ReleaseRefreshLock(ctx context.Context, appID string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{keyPrefix + appID}, l.owner).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// MockLocker is an in-memory Locker for tests. It ignores ttl.
type MockLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	Acquired int
}

func NewMock() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) AcquireRefreshLock(_ context.Context, appID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[appID] {
		return false, nil
	}
	m.held[appID] = true
	m.Acquired++
	return true, nil
}

func (m *MockLocker) ReleaseRefreshLock(_ context.Context, appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, appID)
	return nil
}

// Held reports whether appID is currently locked.
func (m *MockLocker) Held(appID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[appID]
}
