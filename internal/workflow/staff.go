package workflow

import (
	"context"
	"strings"

	"github.com/garnizeh/placement/internal/models"
)

// StaffAction completes one step of the staff workflow.
type StaffAction struct {
	ApplicationID string
	Step          string
	Notes         string
	Actor         string
}

// StaffTracker drives received → reviewed → approved → sent_to_company.
type StaffTracker struct {
	*base
}

func (s *StaffTracker) Advance(ctx context.Context, a StaffAction) (*TrackerState, error) {
	step := strings.TrimSpace(a.Step)
	if step == "" {
		return nil, invalid("action", "is required")
	}
	if _, err := s.application(ctx, a.ApplicationID); err != nil {
		return nil, err
	}
	return s.advance(ctx, StaffWorkflow, models.StepRecord{
		ApplicationID: a.ApplicationID,
		Step:          step,
		Notes:         a.Notes,
		Actor:         a.Actor,
	})
}

// State returns the staff workflow of an existing application. Applications
// without any staff action report stage 0.
func (s *StaffTracker) State(ctx context.Context, applicationID string) (*TrackerState, error) {
	if _, err := s.application(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.trackerState(ctx, StaffWorkflow, applicationID)
}
