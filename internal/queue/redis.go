package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis list. LPUSH/BRPOP gives FIFO
// ordering with an atomic blocking pop, so no two consumers can receive
// the same item.
type RedisQueue struct {
	client *redis.Client
	name   string
}

// Dial connects to Redis and verifies the connection with a ping.
// A queue backing store that is unreachable at startup is a fatal
// condition; callers should refuse to start rather than run degraded.
func Dial(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("queue backing store unreachable at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisQueue creates a queue over the named Redis list.
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

// Name returns the queue's identifier.
func (q *RedisQueue) Name() string {
	return q.name
}

// Push appends a payload to the queue.
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest payload.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("pop from %s: unexpected reply length %d", q.name, len(res))
	}
	return []byte(res[1]), nil
}

// Len returns the current queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", q.name, err)
	}
	return n, nil
}

var _ Queue = (*RedisQueue)(nil)
