package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// ledgerRetries bounds compare-and-set attempts for one status change. Status
// writes on a single application are rare enough that losing more than a few
// races in a row means something else is wrong.
const ledgerRetries = 8

var transitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.StatusSubmitted:    {models.StatusUnderReview},
	models.StatusUnderReview:  {models.StatusApproved, models.StatusRejected, models.StatusNeedsChanges},
	models.StatusNeedsChanges: {models.StatusUnderReview},
	models.StatusApproved:     {models.StatusCompleted},
}

// CanTransition reports whether from → to is a normal ledger transition.
func CanTransition(from, to models.ApplicationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func expectedFrom(from models.ApplicationStatus) string {
	next := transitions[from]
	out := make([]string, len(next))
	for i, s := range next {
		out[i] = string(s)
	}
	return strings.Join(out, "|")
}

type SubmitRequest struct {
	// ID is optional; a UUID is generated when empty.
	ID                string
	StudentID         string
	InternshipID      string
	CompanyID         string
	RequiredApprovals int
	Actor             string
}

type TransitionRequest struct {
	ApplicationID string
	To            models.ApplicationStatus
	Actor         string
	Note          string
}

type OverrideRequest struct {
	ApplicationID string
	To            models.ApplicationStatus
	Actor         string
	Reason        string
}

// Ledger owns the canonical application status. Normal transitions follow
// submitted → under_review → approved|rejected|needs_changes → completed,
// with needs_changes → under_review on resubmission. completed is only
// reachable once staff has sent the application to the company and the
// committee quorum is met.
type Ledger struct {
	*base
}

func (l *Ledger) Submit(ctx context.Context, r SubmitRequest) (*models.Application, error) {
	fields := map[string]string{}
	if strings.TrimSpace(r.StudentID) == "" {
		fields["student_id"] = "is required"
	}
	if r.RequiredApprovals < 0 {
		fields["required_approvals"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := l.now()
	app := &models.Application{
		ID:                id,
		StudentID:         strings.TrimSpace(r.StudentID),
		InternshipID:      r.InternshipID,
		CompanyID:         r.CompanyID,
		Status:            models.StatusSubmitted,
		RequiredApprovals: r.RequiredApprovals,
		Created:           ts,
		Updated:           ts,
	}
	if err := l.repo.Applications.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("application %q: %w", id, ErrDuplicate)
		}
		return nil, fmt.Errorf("create application: %w", err)
	}

	l.logger.Info("application submitted", slog.String("application_id", id), slog.String("student_id", app.StudentID))
	l.emit(ctx, EventApplicationSubmitted, id, r.Actor, map[string]any{
		"student_id":         app.StudentID,
		"required_approvals": app.RequiredApprovals,
	})
	return app, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Application, error) {
	return l.application(ctx, id)
}

// Transition applies a normal status change.
func (l *Ledger) Transition(ctx context.Context, r TransitionRequest) (*models.Application, error) {
	if !r.To.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", r.To))
	}
	return l.move(ctx, r.ApplicationID, r.To, r.Actor, r.Note, false, l.checkNormal)
}

// Resubmit moves an application from needs_changes back to under_review.
func (l *Ledger) Resubmit(ctx context.Context, applicationID, actor, note string) (*models.Application, error) {
	return l.move(ctx, applicationID, models.StatusUnderReview, actor, note, false, func(ctx context.Context, app *models.Application, to models.ApplicationStatus) error {
		if app.Status != models.StatusNeedsChanges {
			return &TransitionError{
				Scope:     "ledger",
				Attempted: string(to),
				Current:   string(app.Status),
				Reason:    "only applications needing changes can be resubmitted",
			}
		}
		return nil
	})
}

// Override sets any status, completed included, bypassing the transition
// rules. The change is recorded with its reason and flagged as an override.
func (l *Ledger) Override(ctx context.Context, r OverrideRequest) (*models.Application, error) {
	fields := map[string]string{}
	if !r.To.Valid() {
		fields["status"] = fmt.Sprintf("unknown status %q", r.To)
	}
	if strings.TrimSpace(r.Reason) == "" {
		fields["reason"] = "is required for an override"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return l.move(ctx, r.ApplicationID, r.To, r.Actor, strings.TrimSpace(r.Reason), true, func(ctx context.Context, app *models.Application, to models.ApplicationStatus) error {
		if app.Status == to {
			return invalid("status", fmt.Sprintf("application is already %q", to))
		}
		return nil
	})
}

func (l *Ledger) History(ctx context.Context, applicationID string) ([]models.StatusChange, error) {
	if _, err := l.application(ctx, applicationID); err != nil {
		return nil, err
	}
	h, err := l.repo.Applications.ListStatusHistory(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return h, nil
}

type guard func(ctx context.Context, app *models.Application, to models.ApplicationStatus) error

func (l *Ledger) checkNormal(ctx context.Context, app *models.Application, to models.ApplicationStatus) error {
	if app.Status == models.StatusCompleted {
		return &TransitionError{Scope: "ledger", Attempted: string(to), Current: string(app.Status), Reason: "application is completed"}
	}
	if !CanTransition(app.Status, to) {
		return &TransitionError{Scope: "ledger", Attempted: string(to), Current: string(app.Status), Expected: expectedFrom(app.Status)}
	}
	if to != models.StatusCompleted {
		return nil
	}

	staff, err := l.trackerState(ctx, StaffWorkflow, app.ID)
	if err != nil {
		return err
	}
	if !staff.Done(StepSentToCompany) {
		return &TransitionError{
			Scope:     "ledger",
			Attempted: string(to),
			Current:   string(app.Status),
			Reason:    fmt.Sprintf("staff workflow incomplete, next step %q", staff.Next),
		}
	}
	if app.RequiredApprovals > 0 && !app.QuorumSatisfied() {
		return &TransitionError{
			Scope:     "ledger",
			Attempted: string(to),
			Current:   string(app.Status),
			Reason:    fmt.Sprintf("committee quorum not met (%d of %d approvals)", app.CurrentApprovals, app.RequiredApprovals),
		}
	}
	return nil
}

// move re-reads the application, runs check and writes the change
// conditioned on the status it observed. Losing the race re-runs the check
// against the new status.
func (l *Ledger) move(ctx context.Context, id string, to models.ApplicationStatus, actor, note string, override bool, check guard) (*models.Application, error) {
	for attempt := 0; attempt < ledgerRetries; attempt++ {
		app, err := l.application(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := check(ctx, app, to); err != nil {
			return nil, err
		}

		change := &models.StatusChange{
			ApplicationID: id,
			From:          app.Status,
			To:            to,
			Actor:         actor,
			Note:          note,
			Override:      override,
			Created:       l.now(),
		}
		err = l.repo.Applications.UpdateStatus(ctx, change)
		switch {
		case errors.Is(err, repository.ErrStale):
			continue
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFound("application", id)
		case err != nil:
			return nil, fmt.Errorf("update status: %w", err)
		}

		metrics.RecordTransition(string(change.From), string(to), override)
		typ := EventStatusChanged
		if override {
			typ = EventStatusOverridden
			l.logger.Warn("status override",
				slog.String("application_id", id),
				slog.String("from", string(change.From)),
				slog.String("to", string(to)),
				slog.String("actor", actor),
				slog.String("reason", note),
			)
		} else {
			l.logger.Info("status changed", slog.String("application_id", id), slog.String("from", string(change.From)), slog.String("to", string(to)))
		}
		l.emit(ctx, typ, id, actor, map[string]any{
			"from": string(change.From),
			"to":   string(to),
		})

		app.Status = to
		app.Updated = change.Created
		return app, nil
	}
	return nil, fmt.Errorf("update status of %q: %w", id, ErrConflict)
}
