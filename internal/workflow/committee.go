package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

const (
	QuorumPending   = "pending"
	QuorumSatisfied = "satisfied"
)

type Decision struct {
	ApplicationID string
	MemberID      string
	Status        models.DecisionStatus
	Reason        string
}

// Tally is the committee position of one application. Rejections are
// reported but do not block quorum.
type Tally struct {
	ApplicationID     string `json:"application_id"`
	CurrentApprovals  int    `json:"current_approvals"`
	RequiredApprovals int    `json:"required_approvals"`
	Rejections        int    `json:"rejections"`
	QuorumSatisfied   bool   `json:"quorum_satisfied"`
	Signal            string `json:"signal"`
}

// Committee records one decision per member and application and keeps the
// approval count derived from the stored decisions.
type Committee struct {
	*base
}

func (c *Committee) RecordDecision(ctx context.Context, d Decision) (*Tally, error) {
	d.MemberID = strings.TrimSpace(d.MemberID)
	d.Reason = strings.TrimSpace(d.Reason)

	fields := map[string]string{}
	if d.ApplicationID == "" {
		fields["application_id"] = "is required"
	}
	if d.MemberID == "" {
		fields["member_id"] = "is required"
	}
	switch d.Status {
	case models.DecisionApproved:
	case models.DecisionRejected:
		if d.Reason == "" {
			fields["reason"] = "is required when rejecting"
		}
	default:
		fields["status"] = `must be "approved" or "rejected"`
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	app, err := c.application(ctx, d.ApplicationID)
	if err != nil {
		return nil, err
	}

	rec := &models.CommitteeDecision{
		ApplicationID: d.ApplicationID,
		MemberID:      d.MemberID,
		Status:        d.Status,
		Reason:        d.Reason,
		Created:       c.now(),
	}
	approvals, err := c.repo.Decisions.RecordDecision(ctx, rec)
	switch {
	case errors.Is(err, repository.ErrAlreadyExists):
		return nil, fmt.Errorf("member %q already decided on application %q: %w", d.MemberID, d.ApplicationID, ErrDuplicate)
	case errors.Is(err, repository.ErrNotFound):
		return nil, notFound("application", d.ApplicationID)
	case err != nil:
		return nil, fmt.Errorf("record decision: %w", err)
	}

	metrics.RecordDecision(string(d.Status))
	app.CurrentApprovals = approvals
	t, err := c.tally(ctx, app)
	if err != nil {
		return nil, err
	}

	c.logger.Info("committee decision recorded",
		slog.String("application_id", d.ApplicationID),
		slog.String("member_id", d.MemberID),
		slog.String("status", string(d.Status)),
		slog.Int("current_approvals", t.CurrentApprovals),
		slog.Int("required_approvals", t.RequiredApprovals),
	)
	c.emit(ctx, EventDecisionRecorded, d.ApplicationID, d.MemberID, map[string]any{
		"status":            string(d.Status),
		"current_approvals": t.CurrentApprovals,
		"quorum_satisfied":  t.QuorumSatisfied,
	})
	return t, nil
}

func (c *Committee) Tally(ctx context.Context, applicationID string) (*Tally, error) {
	app, err := c.application(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return c.tally(ctx, app)
}

func (c *Committee) Decisions(ctx context.Context, applicationID string) ([]models.CommitteeDecision, error) {
	if _, err := c.application(ctx, applicationID); err != nil {
		return nil, err
	}
	ds, err := c.repo.Decisions.ListDecisions(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return ds, nil
}

func (c *Committee) tally(ctx context.Context, app *models.Application) (*Tally, error) {
	ds, err := c.repo.Decisions.ListDecisions(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	t := &Tally{
		ApplicationID:     app.ID,
		CurrentApprovals:  app.CurrentApprovals,
		RequiredApprovals: app.RequiredApprovals,
		QuorumSatisfied:   app.QuorumSatisfied(),
		Signal:            QuorumPending,
	}
	for _, d := range ds {
		if d.Status == models.DecisionRejected {
			t.Rejections++
		}
	}
	if t.QuorumSatisfied {
		t.Signal = QuorumSatisfied
	}
	return t, nil
}
