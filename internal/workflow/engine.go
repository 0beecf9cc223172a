// Package workflow implements the placement application engine: the status
// ledger, the staff and supervisor step trackers, the committee quorum
// aggregator, document number allocation and print records.
//
// Every component talks to storage through the interfaces in pkg/repository
// and reports outcomes as typed values or errors matching the kinds declared
// in errors.go. Components never block on anything other than a store round
// trip; committed changes are announced to an optional Notifier whose failures
// are logged and otherwise ignored.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// Notifier receives committed workflow events. Implementations must not
// assume the caller will retry or roll back on error.
type Notifier interface {
	Notify(ctx context.Context, e models.Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, e models.Event) error

func (f NotifierFunc) Notify(ctx context.Context, e models.Event) error { return f(ctx, e) }

// Event types emitted by the engine.
const (
	EventApplicationSubmitted = "application.submitted"
	EventStatusChanged        = "application.status_changed"
	EventStatusOverridden     = "application.status_overridden"
	EventStepAdvanced         = "tracker.step_advanced"
	EventSupervisorAssigned   = "supervisor.assigned"
	EventDecisionRecorded     = "committee.decision_recorded"
	EventDocumentPrinted      = "document.printed"
	EventDocumentReprinted    = "document.reprinted"
	EventNumberAllocated      = "document_number.allocated"
)

type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	// Now returns the server clock; defaults to time.Now in UTC.
	Now       func() time.Time
	Numbering NumberingOptions
	// MaxBatch caps the number of applications in one print request.
	MaxBatch int
	// PrintRequiresApproval rejects printing for applications that are not
	// approved or completed.
	PrintRequiresApproval bool
}

// Engine bundles the components sharing one repository and notifier.
type Engine struct {
	Sequencer  *Sequencer
	Printer    *PrintManager
	Ledger     *Ledger
	Staff      *StaffTracker
	Supervisor *SupervisorTracker
	Committee  *Committee
}

func New(repo *repository.Repository, opts Options) (*Engine, error) {
	if repo == nil || repo.Applications == nil || repo.Steps == nil || repo.Decisions == nil || repo.Sequences == nil || repo.Prints == nil {
		return nil, fmt.Errorf("workflow: incomplete repository")
	}
	b := newBase(repo, opts)

	seq := &Sequencer{base: b, opts: opts.Numbering.withDefaults()}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 200
	}

	return &Engine{
		Sequencer:  seq,
		Printer:    &PrintManager{base: b, seq: seq, maxBatch: maxBatch, requireApproval: opts.PrintRequiresApproval},
		Ledger:     &Ledger{base: b},
		Staff:      &StaffTracker{base: b},
		Supervisor: &SupervisorTracker{base: b},
		Committee:  &Committee{base: b},
	}, nil
}

type base struct {
	repo     *repository.Repository
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
}

func newBase(repo *repository.Repository, opts Options) *base {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &base{repo: repo, logger: logger, notifier: opts.Notifier, now: now}
}

func (b *base) application(ctx context.Context, id string) (*models.Application, error) {
	if id == "" {
		return nil, invalid("application_id", "is required")
	}
	app, err := b.repo.Applications.GetApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load application %q: %w", id, err)
	}
	if app == nil {
		return nil, notFound("application", id)
	}
	return app, nil
}

// emit hands a committed change to the notifier. It never fails the caller.
func (b *base) emit(ctx context.Context, typ, applicationID, actor string, payload map[string]any) {
	if b.notifier == nil {
		return
	}
	e := models.Event{
		ID:            uuid.NewString(),
		Type:          typ,
		ApplicationID: applicationID,
		Actor:         actor,
		Payload:       payload,
		At:            b.now(),
	}
	if err := b.notifier.Notify(ctx, e); err != nil {
		metrics.RecordNotification("failed")
		b.logger.Error("notify", slog.String("event", typ), slog.String("application_id", applicationID), slog.Any("err", err))
		return
	}
	metrics.RecordNotification("queued")
}
