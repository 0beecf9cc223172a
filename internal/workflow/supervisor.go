package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// SupervisorAction completes one step of the supervisor workflow.
// AppointmentAt is required for appointment_scheduled.
type SupervisorAction struct {
	ApplicationID       string
	Step                string
	Notes               string
	AppointmentAt       *time.Time
	AppointmentLocation string
	Actor               string
}

// SupervisorTracker drives assignment_received → confirmed →
// appointment_scheduled. The workflow exists only once a supervisor has been
// assigned, which in turn needs the staff approved step.
type SupervisorTracker struct {
	*base
}

func (s *SupervisorTracker) Assign(ctx context.Context, applicationID, supervisorID, actor string) (*models.SupervisorAssignment, error) {
	supervisorID = strings.TrimSpace(supervisorID)
	if supervisorID == "" {
		return nil, invalid("supervisor_id", "is required")
	}
	if _, err := s.application(ctx, applicationID); err != nil {
		return nil, err
	}

	staff, err := s.trackerState(ctx, StaffWorkflow, applicationID)
	if err != nil {
		return nil, err
	}
	if !staff.Done(StepApproved) {
		return nil, &TransitionError{
			Scope:     SupervisorWorkflow.Name,
			Attempted: "assign",
			Current:   staff.last(),
			Expected:  staff.Next,
			Reason:    "staff approval is required before a supervisor can be assigned",
		}
	}

	a := &models.SupervisorAssignment{
		ApplicationID: applicationID,
		SupervisorID:  supervisorID,
		AssignedBy:    actor,
		Assigned:      s.now(),
	}
	if err := s.repo.Steps.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("application %q already has a supervisor: %w", applicationID, ErrDuplicate)
		}
		return nil, fmt.Errorf("assign supervisor: %w", err)
	}

	s.logger.Info("supervisor assigned", slog.String("application_id", applicationID), slog.String("supervisor_id", supervisorID))
	s.emit(ctx, EventSupervisorAssigned, applicationID, actor, map[string]any{"supervisor_id": supervisorID})
	return a, nil
}

func (s *SupervisorTracker) Advance(ctx context.Context, a SupervisorAction) (*TrackerState, error) {
	step := strings.TrimSpace(a.Step)
	if step == "" {
		return nil, invalid("action", "is required")
	}
	rec := models.StepRecord{
		ApplicationID: a.ApplicationID,
		Step:          step,
		Notes:         a.Notes,
		Actor:         a.Actor,
	}
	if step == StepAppointmentScheduled {
		if a.AppointmentAt == nil || a.AppointmentAt.IsZero() {
			return nil, invalid("appointment_date", "is required to schedule an appointment")
		}
		at := a.AppointmentAt.UTC()
		rec.AppointmentAt = &at
		rec.AppointmentLocation = strings.TrimSpace(a.AppointmentLocation)
	}

	if _, err := s.assignment(ctx, a.ApplicationID); err != nil {
		return nil, err
	}
	return s.advance(ctx, SupervisorWorkflow, rec)
}

// State returns the supervisor workflow, or Not-Found before assignment.
func (s *SupervisorTracker) State(ctx context.Context, applicationID string) (*TrackerState, error) {
	if _, err := s.assignment(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.trackerState(ctx, SupervisorWorkflow, applicationID)
}

func (s *SupervisorTracker) Assignment(ctx context.Context, applicationID string) (*models.SupervisorAssignment, error) {
	return s.assignment(ctx, applicationID)
}

func (s *SupervisorTracker) assignment(ctx context.Context, applicationID string) (*models.SupervisorAssignment, error) {
	if _, err := s.application(ctx, applicationID); err != nil {
		return nil, err
	}
	a, err := s.repo.Steps.GetAssignment(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load supervisor assignment: %w", err)
	}
	if a == nil {
		return nil, notFound("supervisor assignment", applicationID)
	}
	return a, nil
}
