package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/audit"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/pkg/queue"
	"github.com/Slothbar/slothvote/pkg/storage"
)

const dequeueTimeout = 5 * time.Second

// Store persists audit rows.
type Store interface {
	InsertAdmission(ctx context.Context, a models.Admission) error
	InsertCycleArchive(ctx context.Context, rec audit.ArchiveRecord) error
}

// Uploader writes archive documents to object storage.
type Uploader interface {
	PutJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor processes admission and cycle archive jobs.
type Processor struct {
	store    Store
	uploader Uploader
	queue    JobQueue
	backoff  time.Duration
	logger   *zap.Logger
}

// NewProcessor creates a job processor. uploader may be nil, in which case archives are
// recorded without an object.
func NewProcessor(store Store, uploader Uploader, q JobQueue, backoff time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &Processor{store: store, uploader: uploader, queue: q, backoff: backoff, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeAdmission:
		var a models.Admission
		if err := json.Unmarshal(job.Payload, &a); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := p.store.InsertAdmission(ctx, a); err != nil {
			return fmt.Errorf("insert admission: %w", err)
		}
		p.logger.Info("admission recorded", zap.String("user_id", a.UserID), zap.String("transaction_id", a.TransactionID))
		return nil
	case queue.JobTypeCycleArchive:
		var a models.CycleArchive
		if err := json.Unmarshal(job.Payload, &a); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archive(ctx, a)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) archive(ctx context.Context, a models.CycleArchive) error {
	var key string
	if p.uploader != nil {
		key = storage.CycleKey(a.Cycle.Generation, a.Cycle.ID.String())
		if _, err := p.uploader.PutJSON(ctx, key, a); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}
	rec := audit.ArchiveRecord{
		CycleID:    a.Cycle.ID,
		Generation: a.Cycle.Generation,
		Question:   a.Cycle.Question,
		ObjectKey:  key,
		Served:     a.Tally.Served,
		Voted:      a.Tally.Voted,
		ResetAt:    a.ResetAt,
	}
	if err := p.store.InsertCycleArchive(ctx, rec); err != nil {
		return fmt.Errorf("insert cycle archive: %w", err)
	}
	p.logger.Info("cycle archived", zap.String("cycle_id", a.Cycle.ID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
