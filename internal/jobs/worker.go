// small contract description
// inputs: queued job rows, handlers map
// outputs: job status updates, dead-letter moves on permanent failure
// error modes: store errors, handler errors
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

const (
	idleDelay  = 500 * time.Millisecond
	errorDelay = time.Second
)

type WorkerPool struct {
	repo        repository.JobRepo
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	idle        time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	now         func() time.Time
}

func NewWorkerPool(repo repository.JobRepo, handlers map[string]Handler, logger *slog.Logger, workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: workerCount,
		idle:        idleDelay,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
}

// SetPollInterval changes how long an idle worker waits before polling again.
func (p *WorkerPool) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.idle = d
	}
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. It is safe to call twice.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// wait sleeps for d unless the pool is stopping. It reports whether the
// worker should keep going.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", slog.Int("id", id))
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", slog.Int("id", id))
			return
		default:
		}

		job, err := p.repo.FetchNext(ctx)
		if err != nil {
			p.logger.Error("fetch job", slog.Any("err", err))
			if !p.wait(ctx, errorDelay) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(ctx, p.idle) {
				return
			}
			continue
		}
		p.run(ctx, job)
	}
}

func (p *WorkerPool) run(ctx context.Context, job *models.BackgroundJob) {
	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = "failed"
		job.LastError = ErrNoHandler.Error()
		if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
			p.logger.Error("move to dead letter", slog.Int64("job_id", job.ID), slog.Any("err", err))
		}
		return
	}

	err := h(ctx, job)
	if err == nil {
		job.Status = "done"
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			p.logger.Error("mark job done", slog.Int64("job_id", job.ID), slog.Any("err", upErr))
		}
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = "failed"
		job.LastError = fmt.Errorf("%w: %w", ErrMaxAttempts, err).Error()
		p.logger.Warn("job failed permanently", slog.Int64("job_id", job.ID), slog.String("type", job.Type), slog.Int("attempts", job.Attempts), slog.Any("err", err))
		if mvErr := p.repo.MoveToDeadLetter(ctx, job); mvErr != nil {
			p.logger.Error("move to dead letter", slog.Int64("job_id", job.ID), slog.Any("err", mvErr))
		}
		return
	}

	// schedule retry with backoff
	t := p.now().Add(BackoffDuration(job.Attempts))
	job.NextTryAt = &t
	job.Status = "retry"
	if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
		p.logger.Error("update job for retry", slog.Int64("job_id", job.ID), slog.Any("err", upErr))
	}
}

// Enqueue convenience helper that creates a job and persists it
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	return enqueue(ctx, p.repo, typ, payload, priority, maxAttempts, p.now())
}

func enqueue(ctx context.Context, repo repository.JobRepo, typ string, payload any, priority, maxAttempts int, at time.Time) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	j := &models.BackgroundJob{Type: typ, Payload: b, Priority: priority, MaxAttempts: maxAttempts, ScheduledAt: at}
	return repo.Enqueue(ctx, j)
}
