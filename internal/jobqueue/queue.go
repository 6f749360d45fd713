// Package jobqueue is an optional external queue of uploaded G-code
// programs sitting in front of cmd/motiond's serial/gcode path. It is
// a cache of work to do, not authoritative persistence: the motion
// core itself persists nothing, and a Redis outage only means no new
// programs start, not that in-flight motion is lost.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status is a job's lifecycle stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one uploaded G-code program awaiting execution.
type Job struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Config configures the Redis connection backing the queue.
type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string // defaults to "motiond"
}

// Queue is a Redis-backed FIFO of Jobs plus a status hash so a status
// surface can report a job's progress by ID after it has been popped
// off the list.
type Queue struct {
	client *redis.Client
	prefix string
}

// New connects to cfg.Addr and verifies connectivity with a Ping.
func New(cfg Config) (*Queue, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "motiond"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("jobqueue: connect: %w", err)
	}

	return &Queue{client: client, prefix: cfg.KeyPrefix}, nil
}

func (q *Queue) listKey() string        { return q.prefix + ":jobs:pending" }
func (q *Queue) statusKey(id string) string { return q.prefix + ":jobs:status:" + id }

// Enqueue assigns job an ID and submission time, records its initial
// status, and pushes it onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, filename, body string) (*Job, error) {
	job := &Job{
		ID:          uuid.NewString(),
		Filename:    filename,
		Body:        body,
		SubmittedAt: time.Now(),
		Status:      StatusPending,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: marshal job: %w", err)
	}

	if err := q.client.RPush(ctx, q.listKey(), data).Err(); err != nil {
		return nil, fmt.Errorf("jobqueue: enqueue: %w", err)
	}
	if err := q.setStatus(ctx, job.ID, StatusPending, ""); err != nil {
		return nil, err
	}

	return job, nil
}

// Dequeue blocks up to timeout for the next pending job. A zero
// timeout blocks indefinitely (matching redis's BLPOP convention);
// returns nil, nil on timeout with nothing available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.listKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: dequeue: %w", err)
	}

	// BLPop returns [key, value]; result[1] is the job payload.
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("jobqueue: unmarshal job: %w", err)
	}

	if err := q.setStatus(ctx, job.ID, StatusRunning, ""); err != nil {
		return &job, err
	}
	job.Status = StatusRunning
	return &job, nil
}

// MarkDone records a job's terminal status. errMsg is empty for a
// clean completion.
func (q *Queue) MarkDone(ctx context.Context, jobID string, errMsg string) error {
	status := StatusDone
	if errMsg != "" {
		status = StatusFailed
	}
	return q.setStatus(ctx, jobID, status, errMsg)
}

func (q *Queue) setStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	fields := map[string]interface{}{
		"status": string(status),
		"error":  errMsg,
	}
	if err := q.client.HSet(ctx, q.statusKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("jobqueue: set status: %w", err)
	}
	return q.client.Expire(ctx, q.statusKey(jobID), 24*time.Hour).Err()
}

// StatusOf returns the current status and any recorded error for
// jobID, or ("", "", false) if the ID is unknown (expired or never
// enqueued).
func (q *Queue) StatusOf(ctx context.Context, jobID string) (Status, string, bool, error) {
	result, err := q.client.HGetAll(ctx, q.statusKey(jobID)).Result()
	if err != nil {
		return "", "", false, fmt.Errorf("jobqueue: status lookup: %w", err)
	}
	if len(result) == 0 {
		return "", "", false, nil
	}
	return Status(result["status"]), result["error"], true, nil
}

// Depth reports how many jobs are waiting to be dequeued.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue: depth: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
