package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const popTimeout = 5 * time.Second

// RedisQueue is a list-backed queue: producers LPUSH, consumers BRPOP. It lets the HTTP
// process submit jobs that a separate worker process executes.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		q.logger.Error("queue.redis.push_failed", "job_id", task.JobID, "error", err)
		return fmt.Errorf("push task: %w", err)
	}
	q.logger.Debug("queue.enqueued", "job_id", task.JobID, "key", q.key)
	return nil
}

// Consume starts workers that pop tasks and run them with a per-task timeout. It returns
// immediately; Shutdown stops the workers.
func (q *RedisQueue) Consume(ctx context.Context, handle Handler, workers int, timeout time.Duration) {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.logger.Debug("queue.worker.start", "worker_id", workerID, "key", q.key)
			for ctx.Err() == nil {
				task, ok := q.pop(ctx)
				if !ok {
					continue
				}
				runTask(handle, task, timeout, q.logger, workerID)
			}
			q.logger.Debug("queue.worker.stop", "worker_id", workerID)
		}(i + 1)
	}
}

func (q *RedisQueue) pop(ctx context.Context) (Task, bool) {
	res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return Task{}, false
	case err != nil:
		if ctx.Err() == nil {
			q.logger.Error("queue.redis.pop_failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return Task{}, false
	}
	// BRPOP answers [key, value].
	if len(res) != 2 {
		return Task{}, false
	}
	task, err := decodeTask(res[1])
	if err != nil {
		q.logger.Error("queue.redis.bad_task", "payload", res[1], "error", err)
		return Task{}, false
	}
	return task, true
}

// Shutdown stops intake and consumers, waiting for in-flight tasks until ctx ends.
func (q *RedisQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()
	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
