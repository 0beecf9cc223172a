package workflow

import (
	"context"
	"errors"

	"github.com/garnizeh/placement/internal/models"
)

// ApplicationView is everything known about one application.
type ApplicationView struct {
	Application *models.Application          `json:"application"`
	Staff       *TrackerState                `json:"staff"`
	Assignment  *models.SupervisorAssignment `json:"supervisor_assignment,omitempty"`
	Supervisor  *TrackerState                `json:"supervisor,omitempty"`
	Committee   *Tally                       `json:"committee"`
	Print       *models.PrintRecord          `json:"print,omitempty"`
}

func (e *Engine) View(ctx context.Context, applicationID string) (*ApplicationView, error) {
	app, err := e.Ledger.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	v := &ApplicationView{Application: app}

	if v.Staff, err = e.Staff.State(ctx, applicationID); err != nil {
		return nil, err
	}
	if v.Committee, err = e.Committee.tally(ctx, app); err != nil {
		return nil, err
	}

	v.Assignment, err = e.Supervisor.Assignment(ctx, applicationID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if v.Supervisor, err = e.Supervisor.trackerState(ctx, SupervisorWorkflow, applicationID); err != nil {
			return nil, err
		}
	}

	v.Print, err = e.Printer.Get(ctx, applicationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return v, nil
}
