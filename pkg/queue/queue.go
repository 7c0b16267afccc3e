package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/models"
)

const (
	// QueueJobs is the Redis list key for admission audit and archive jobs.
	QueueJobs = "slothvote:jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "slothvote:dlq"
	// DefaultMaxRetries is the number of attempts before a job moves to the DLQ.
	DefaultMaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAdmission    JobType = "admission"
	JobTypeCycleArchive JobType = "cycle_archive"
)

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client     redis.Cmdable
	maxRetries int
	logger     *zap.Logger
}

// NewQueue creates a new Redis-backed job queue. maxRetries <= 0 uses DefaultMaxRetries.
func NewQueue(client redis.Cmdable, maxRetries int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{client: client, maxRetries: maxRetries, logger: logger}
}

// EnqueueAdmission enqueues an admission audit record.
func (q *Queue) EnqueueAdmission(ctx context.Context, a models.Admission) error {
	job, err := q.enqueue(ctx, JobTypeAdmission, a)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued admission job", zap.String("job_id", job.ID), zap.String("user_id", a.UserID))
	return nil
}

// EnqueueCycleArchive enqueues the archive of a finished cycle.
func (q *Queue) EnqueueCycleArchive(ctx context.Context, a models.CycleArchive) error {
	job, err := q.enqueue(ctx, JobTypeCycleArchive, a)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued cycle archive job", zap.String("job_id", job.ID), zap.String("cycle_id", a.Cycle.ID.String()))
	return nil
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// Dequeue blocks until a job is available, timeout elapses or ctx is done.
// A nil job with nil error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueJobs).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. Once attempts reach the limit it
// goes to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= q.maxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
