// Package queue provides the offer task queue (E7): a durable Redis
// list the offer scheduler's workers pull from, plus a per-dispatch
// Pub/Sub channel used as the "condition signaled on any write" wakeup
// primitive called for in the design notes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const wakeupPrefix = "dispatch:wakeup:"

// TaskQueue is the durable queue offer tasks are enqueued to and
// consumed from.
type TaskQueue interface {
	Enqueue(ctx context.Context, dispatchID string) error
	// Dequeue blocks up to timeout for a task and returns the dispatch id
	// plus an ack function the caller must invoke once the task has been
	// processed; ack removes the task for good and does not requeue it.
	Dequeue(ctx context.Context, timeout time.Duration) (dispatchID string, ack func() error, err error)
	// Wakeup notifies any worker waiting on this dispatch id that its
	// record changed (an ack, a cancel, ...).
	Wakeup(ctx context.Context, dispatchID string) error
	// Subscribe returns a channel that receives a value on every Wakeup
	// call for this dispatch id, and a cancel function to stop listening.
	Subscribe(ctx context.Context, dispatchID string) (<-chan struct{}, func(), error)
}

// RedisQueue implements TaskQueue with a Redis list for durability
// (BRPOPLPUSH into a processing list so an in-flight task remains
// visible across a worker crash) and Pub/Sub for low-latency wakeups.
type RedisQueue struct {
	client         *redis.Client
	pendingKey     string
	processingKey  string
}

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		pendingKey:    "queue:" + name + ":pending",
		processingKey: "queue:" + name + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, dispatchID string) error {
	if err := q.client.LPush(ctx, q.pendingKey, dispatchID).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, func() error, error) {
	id, err := q.client.BRPopLPush(ctx, q.pendingKey, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("dequeue: %w", err)
	}
	ack := func() error {
		return q.client.LRem(ctx, q.processingKey, 1, id).Err()
	}
	return id, ack, nil
}

func (q *RedisQueue) Wakeup(ctx context.Context, dispatchID string) error {
	return q.client.Publish(ctx, wakeupPrefix+dispatchID, "1").Err()
}

func (q *RedisQueue) Subscribe(ctx context.Context, dispatchID string) (<-chan struct{}, func(), error) {
	sub := q.client.Subscribe(ctx, wakeupPrefix+dispatchID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan struct{}, 1)
	msgs := sub.Channel()
	go func() {
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
