package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// OutboxNotifier persists workflow events as jobs so delivery happens off the
// request path and survives restarts.
type OutboxNotifier struct {
	repo        repository.JobRepo
	maxAttempts int
	priority    int
}

func NewOutboxNotifier(repo repository.JobRepo, maxAttempts int) *OutboxNotifier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OutboxNotifier{repo: repo, maxAttempts: maxAttempts, priority: 100}
}

func (n *OutboxNotifier) Notify(ctx context.Context, e models.Event) error {
	if _, err := enqueue(ctx, n.repo, TypeWorkflowEvent, e, n.priority, n.maxAttempts, time.Now().UTC()); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Type, err)
	}
	return nil
}
