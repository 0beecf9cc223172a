package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/garnizeh/placement/internal/models"
)

// Job types understood by the worker pool.
const (
	TypeWorkflowEvent = "notify.workflow_event"
)

// Handler is the function that processes a job
type Handler func(ctx context.Context, j *models.BackgroundJob) error

// ErrMaxAttempts indicates the job reached max attempts
var ErrMaxAttempts = errors.New("max attempts reached")

// ErrNoHandler is recorded on jobs whose type has no registered handler.
var ErrNoHandler = errors.New("no handler")

// BackoffDuration returns exponential backoff duration for attempt n
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	if attempt > 16 {
		attempt = 16
	}
	// 2^attempt seconds, capped
	d := time.Duration(1<<uint(attempt)) * time.Second
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}
