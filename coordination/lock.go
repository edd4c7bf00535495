package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewatch/presence-agent/observability"
)

// ScanLockKey guards the subnet sweep. The lock lives outside the process so
// two agent instances on the same site cannot double-scan.
const ScanLockKey = "presence:lock:ping_all_devices"

// Locker is a distributed try-lock with TTL. AcquireLock must be atomic
// compare-and-set-on-add; the TTL lets a crashed holder's lock expire.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string, ownerID string) error
}

// RedisLocker implements Locker on a Redis instance.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisLocker{client: client}, nil
}

// AcquireLock attempts to take the lock with SET key value NX EX ttl.
func (l *RedisLocker) AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		observability.LockLatency.Observe(time.Since(start).Seconds())
	}()

	return l.client.SetNX(ctx, key, ownerID, ttl).Result()
}

// ReleaseLock deletes the lock only if still held by ownerID. The Lua script
// makes the get+del atomic so we never delete a lock that expired and was
// re-acquired by someone else.
func (l *RedisLocker) ReleaseLock(ctx context.Context, key string, ownerID string) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{key}, ownerID).Result()
	return err
}

// Close releases the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// MemoryLocker is a process-local Locker for tests and single-box demo mode.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLease
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLease)}
}

func (l *MemoryLocker) AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.locks[key]; ok && time.Now().Before(lease.expiresAt) {
		return false, nil
	}
	l.locks[key] = memoryLease{owner: ownerID, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) ReleaseLock(ctx context.Context, key string, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.locks[key]; ok && lease.owner == ownerID {
		delete(l.locks, key)
	}
	return nil
}
