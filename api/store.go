package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"strobe/scanner"
)

// TaskStore defines persistence operations for scan tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *ScanTask) error
	GetTask(ctx context.Context, id string) (*ScanTask, error)
	UpdateTask(ctx context.Context, task *ScanTask) error
	PushToQueue(ctx context.Context, taskID string) error
	// PopFromQueue waits for the next task ID. It returns ErrQueueEmpty when
	// nothing arrived within the store's poll interval.
	PopFromQueue(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
}

var (
	// ErrTaskNotFound indicates the requested task doesn't exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueEmpty   = errors.New("queue empty")
	ErrQueueFull    = errors.New("queue full")
)

const (
	queueKey = "strobe:scans:queue"
	// taskTTL bounds how long finished and abandoned tasks stay readable.
	taskTTL = 7 * 24 * time.Hour
	// popTimeout keeps BRPOP from outliving a cancelled worker for long.
	popTimeout = 2 * time.Second
)

// RedisStore implements TaskStore using Redis as backend.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed task store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("strobe:scan:%s", id)
}

// CreateTask persists a new scan task in Redis.
func (s *RedisStore) CreateTask(ctx context.Context, task *ScanTask) error {
	return s.write(ctx, task)
}

// GetTask retrieves a task by ID.
func (s *RedisStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	res, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrTaskNotFound
	}
	return deserializeTask(res)
}

// UpdateTask overwrites every field of an existing task.
func (s *RedisStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	return s.write(ctx, task)
}

func (s *RedisStore) write(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	key := s.taskKey(task.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, taskTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// PushToQueue enqueues a task ID for workers to process.
func (s *RedisStore) PushToQueue(ctx context.Context, taskID string) error {
	return s.client.LPush(ctx, queueKey, taskID).Err()
}

func (s *RedisStore) PopFromQueue(ctx context.Context) (string, error) {
	res, err := s.client.BRPop(ctx, popTimeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", errors.New("unexpected response size from BRPOP")
	}
	return res[1], nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func serializeTask(task *ScanTask) (map[string]any, error) {
	hosts, err := json.Marshal(task.Hosts)
	if err != nil {
		return nil, err
	}
	options, err := encodeOptional(task.Options)
	if err != nil {
		return nil, err
	}
	result, err := encodeOptional(task.Result)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":           task.ID,
		"status":       string(task.Status),
		"hosts":        string(hosts),
		"ports":        task.Ports,
		"technique":    task.Technique,
		"options":      options,
		"result":       result,
		"created_at":   task.CreatedAt.Format(time.RFC3339Nano),
		"started_at":   formatTime(task.StartedAt),
		"completed_at": formatTime(task.CompletedAt),
		"error":        task.Error,
	}, nil
}

func deserializeTask(data map[string]string) (*ScanTask, error) {
	task := &ScanTask{
		ID:        data["id"],
		Status:    TaskStatus(data["status"]),
		Ports:     data["ports"],
		Technique: data["technique"],
		Error:     data["error"],
	}

	if raw := data["hosts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Hosts); err != nil {
			return nil, fmt.Errorf("decode hosts: %w", err)
		}
	}
	if raw := data["options"]; raw != "" {
		task.Options = new(ScanOptions)
		if err := json.Unmarshal([]byte(raw), task.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if raw := data["result"]; raw != "" {
		task.Result = new(scanner.ScanResult)
		if err := json.Unmarshal([]byte(raw), task.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}

	var err error
	if raw := data["created_at"]; raw != "" {
		if task.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, err
		}
	}
	if task.StartedAt, err = parseTime(data["started_at"]); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTime(data["completed_at"]); err != nil {
		return nil, err
	}
	return task, nil
}

func encodeOptional[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MemoryStore is a TaskStore held in process memory. It backs the API when
// no Redis is configured and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string][]byte
	queue chan string
}

// NewMemoryStore returns a store whose queue holds at most depth task IDs.
func NewMemoryStore(depth int) *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string][]byte),
		queue: make(chan string, max(depth, 1)),
	}
}

// Tasks are stored encoded so callers never share memory with the store.
func (s *MemoryStore) put(task *ScanTask) error {
	b, err := json.Marshal(task)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks[task.ID] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, task *ScanTask) error {
	return s.put(task)
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*ScanTask, error) {
	s.mu.RLock()
	b, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	var task ScanTask
	if err := json.Unmarshal(b, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *ScanTask) error {
	return s.put(task)
}

func (s *MemoryStore) PushToQueue(_ context.Context, taskID string) error {
	select {
	case s.queue <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *MemoryStore) PopFromQueue(ctx context.Context) (string, error) {
	t := time.NewTimer(popTimeout)
	defer t.Stop()
	select {
	case id := <-s.queue:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
		return "", ErrQueueEmpty
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
