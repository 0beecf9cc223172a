package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// Tracker is an ordered list of named steps. A step can only be completed
// once every step before it is, and completed steps are never undone.
type Tracker struct {
	Name  string
	Steps []string
}

const (
	StepReceived      = "received"
	StepReviewed      = "reviewed"
	StepApproved      = "approved"
	StepSentToCompany = "sent_to_company"

	StepAssignmentReceived   = "assignment_received"
	StepConfirmed            = "confirmed"
	StepAppointmentScheduled = "appointment_scheduled"
)

var (
	StaffWorkflow = Tracker{
		Name:  "staff",
		Steps: []string{StepReceived, StepReviewed, StepApproved, StepSentToCompany},
	}
	SupervisorWorkflow = Tracker{
		Name:  "supervisor",
		Steps: []string{StepAssignmentReceived, StepConfirmed, StepAppointmentScheduled},
	}
)

func (t Tracker) index(step string) int {
	for i, s := range t.Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// StepStatus is one step of a tracker as seen by callers.
type StepStatus struct {
	Step                string     `json:"step"`
	Done                bool       `json:"done"`
	Notes               string     `json:"notes,omitempty"`
	Actor               string     `json:"actor,omitempty"`
	Completed           *time.Time `json:"completed,omitempty"`
	AppointmentAt       *time.Time `json:"appointment_at,omitempty"`
	AppointmentLocation string     `json:"appointment_location,omitempty"`
}

// TrackerState is the derived position of an application in one tracker.
// Stage counts the completed steps; Next is empty once all are done.
type TrackerState struct {
	ApplicationID string       `json:"application_id"`
	Tracker       string       `json:"tracker"`
	Stage         int          `json:"stage"`
	Next          string       `json:"next,omitempty"`
	Steps         []StepStatus `json:"steps"`
}

// Done reports whether step has been completed.
func (s *TrackerState) Done(step string) bool {
	for _, st := range s.Steps {
		if st.Step == step {
			return st.Done
		}
	}
	return false
}

func (s *TrackerState) Complete() bool { return s.Next == "" }

func (s *TrackerState) last() string {
	if s.Stage == 0 {
		return ""
	}
	return s.Steps[s.Stage-1].Step
}

// buildState folds stored records into a state. Only the contiguous prefix of
// records matching the tracker order counts, so a stray row can never make a
// later step look done while an earlier one is not.
func buildState(t Tracker, appID string, recs []models.StepRecord) *TrackerState {
	st := &TrackerState{ApplicationID: appID, Tracker: t.Name, Steps: make([]StepStatus, len(t.Steps))}
	for i, name := range t.Steps {
		st.Steps[i].Step = name
	}
	for _, r := range recs {
		if r.Index != st.Stage || st.Stage >= len(t.Steps) || t.Steps[st.Stage] != r.Step {
			break
		}
		completed := r.Completed
		st.Steps[st.Stage] = StepStatus{
			Step:                r.Step,
			Done:                true,
			Notes:               r.Notes,
			Actor:               r.Actor,
			Completed:           &completed,
			AppointmentAt:       r.AppointmentAt,
			AppointmentLocation: r.AppointmentLocation,
		}
		st.Stage++
	}
	if st.Stage < len(t.Steps) {
		st.Next = t.Steps[st.Stage]
	}
	return st
}

func (b *base) trackerState(ctx context.Context, t Tracker, appID string) (*TrackerState, error) {
	recs, err := b.repo.Steps.ListSteps(ctx, appID, t.Name)
	if err != nil {
		return nil, fmt.Errorf("list %s steps: %w", t.Name, err)
	}
	return buildState(t, appID, recs), nil
}

func outOfOrder(t Tracker, st *TrackerState, step string) *TransitionError {
	e := &TransitionError{Scope: t.Name, Attempted: step, Current: st.last(), Expected: st.Next}
	switch {
	case st.Next == "":
		e.Reason = "all steps already completed"
	case st.Done(step):
		e.Reason = "step already completed"
	default:
		e.Reason = fmt.Sprintf("%q must be completed first", st.Next)
	}
	return e
}

// advance completes rec.Step for rec.ApplicationID. The caller has already
// validated step-specific fields. The write targets the slot right after the
// last completed step; a concurrent advance that took the slot first makes
// this one fail as an invalid transition against the refreshed state.
func (b *base) advance(ctx context.Context, t Tracker, rec models.StepRecord) (*TrackerState, error) {
	idx := t.index(rec.Step)
	if idx < 0 {
		return nil, invalid("action", fmt.Sprintf("unknown %s step %q", t.Name, rec.Step))
	}

	st, err := b.trackerState(ctx, t, rec.ApplicationID)
	if err != nil {
		return nil, err
	}
	if idx != st.Stage {
		return nil, outOfOrder(t, st, rec.Step)
	}

	rec.Tracker = t.Name
	rec.Index = idx
	rec.Completed = b.now()
	if err := b.repo.Steps.AppendStep(ctx, &rec); err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("append %s step: %w", t.Name, err)
		}
		if st, err = b.trackerState(ctx, t, rec.ApplicationID); err != nil {
			return nil, err
		}
		return nil, outOfOrder(t, st, rec.Step)
	}

	metrics.RecordTrackerStep(t.Name, rec.Step)
	b.logger.Info("tracker step completed",
		slog.String("tracker", t.Name),
		slog.String("application_id", rec.ApplicationID),
		slog.String("step", rec.Step),
	)
	b.emit(ctx, EventStepAdvanced, rec.ApplicationID, rec.Actor, map[string]any{
		"tracker": t.Name,
		"step":    rec.Step,
	})

	return b.trackerState(ctx, t, rec.ApplicationID)
}
