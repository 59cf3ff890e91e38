package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// KindCompile asks the compiler to build one document. Args are
// [document id, content].
const KindCompile = "compile"

// ErrEmpty is returned by Dequeue when no job arrived in time.
var ErrEmpty = errors.New("jobs: queue empty")

// Job is one unit of queued work. It is stored as JSON.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Args       []string  `json:"args"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewJob stamps a job with a fresh id and the current time.
func NewJob(kind string, args ...string) Job {
	return Job{ID: ulid.Make().String(), Kind: kind, Args: args, EnqueuedAt: time.Now().UTC()}
}

// Queue hands jobs from producers to workers, first in first out per kind.
// Dequeue waits up to wait and then returns ErrEmpty.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, kind string, wait time.Duration) (Job, error)
}

// MemoryQueue keeps jobs in process memory.
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	byKind map[string][]Job
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{byKind: make(map[string][]Job)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byKind[job.Kind] = append(q.byKind[job.Kind], job)
	q.cond.Broadcast()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, kind string, wait time.Duration) (Job, error) {
	deadline := time.Now().Add(wait)
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()
	timer := time.AfterFunc(wait, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.byKind[kind]) == 0 {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		if !time.Now().Before(deadline) {
			return Job{}, ErrEmpty
		}
		q.cond.Wait()
	}
	job := q.byKind[kind][0]
	q.byKind[kind] = q.byKind[kind][1:]
	return job, nil
}

// Len returns the number of queued jobs of kind.
func (q *MemoryQueue) Len(kind string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKind[kind])
}

// RedisQueue keeps one Redis list per job kind.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue connects to the Redis server named by url
// (redis://[:password@]host:port/db).
func NewRedisQueue(url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("jobs: redis url: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts), prefix: "ttpedia:jobs:"}, nil
}

// Ping checks that the server is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (q *RedisQueue) Close() error { return q.client.Close() }

// Key returns the Redis list holding jobs of kind.
func (q *RedisQueue) Key(kind string) string { return q.prefix + kind }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.Key(job.Kind), b).Err(); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", job.Kind, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, kind string, wait time.Duration) (Job, error) {
	res, err := q.client.BLPop(ctx, wait, q.Key(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobs: dequeue %s: %w", kind, err)
	}
	// BLPOP replies [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, fmt.Errorf("jobs: decode %s job: %w", kind, err)
	}
	return job, nil
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
)
