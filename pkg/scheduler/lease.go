package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only when it still holds ARGV[1], so a
// process never frees a lease that expired and was taken by another.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease stored under one Redis key with a TTL.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedisLease returns a lease on key. The TTL should exceed the longest
// expected cycle.
func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// NewRedisClient connects to a single Redis server.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease acquire: %w", err)
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("redis lease release: %w", err)
	}
	return nil
}
