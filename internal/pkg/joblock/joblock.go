// Package joblock provides a Redis-backed mutual exclusion lock for scheduled
// jobs so that replicas of the service never run economy jobs concurrently.
package joblock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("job lock is held by another process")

// Locker acquires a named lock for at most ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Connect dials Redis and verifies the connection. An empty addr returns
// (nil, nil): callers fall back to a LocalLocker.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")
	return client, nil
}

// Acquire takes the lock or returns ErrNotAcquired.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func() {
		// the caller's ctx may already be cancelled at shutdown
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{fullKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", fullKey).Msg("Failed to release job lock")
		}
	}
	return release, nil
}

// LocalLocker implements Locker in process memory for single-replica setups.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLock
	now  func() time.Time
}

type localLock struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLock), now: time.Now}
}

// Acquire takes the lock or returns ErrNotAcquired. Expired locks are free.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrNotAcquired
	}
	token := uuid.NewString()
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
	}, nil
}
