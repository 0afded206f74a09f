package run

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/storage/redis"
)

// DefaultRedisQueue is the list key used when none is configured.
const DefaultRedisQueue = "nftmarket:runs"

type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue is a run queue on a Redis list, shareable by several marketd
// instances.
type RedisQueue struct {
	client *goredis.Client
	queue  string
	wait   time.Duration
}

func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	client, err := redis.Open(ctx, redis.Config{Address: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		return nil, err
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *goredis.Client, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	if err := q.client.LPush(ctx, q.queue, runID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish run to redis")
	}
	return nil
}

// Consume pops runs with BRPOP.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, goredis.Nil) {
						continue
					}
					if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "pop run from redis")
					return
				}
				if len(values) != 2 {
					continue
				}
				runID := values[1]
				if handlerErr := handler(ctx, runID); handlerErr != nil {
					// requeue
					_ = q.client.RPush(ctx, q.queue, runID).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
