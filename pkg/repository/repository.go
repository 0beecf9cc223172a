package repository

import (
	"context"
	"errors"
	"time"

	"github.com/garnizeh/placement/internal/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
//
// Lookups return (nil, nil) when the row does not exist. Conditional writes
// report their outcome through the sentinel errors below.

var (
	// ErrNotFound is returned by writes that target a row that does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists is returned by inserts that hit an existing key.
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrStale is returned by compare-and-set writes whose precondition no longer holds.
	ErrStale = errors.New("repository: stale write")
)

type ApplicationRepo interface {
	CreateApplication(ctx context.Context, a *models.Application) error
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	// UpdateStatus moves the application from change.From to change.To and
	// appends change to the status history in one transaction. It returns
	// ErrStale when the stored status is no longer change.From.
	UpdateStatus(ctx context.Context, change *models.StatusChange) error
	ListStatusHistory(ctx context.Context, applicationID string) ([]models.StatusChange, error)
}

type StepRepo interface {
	// ListSteps returns the completed steps of one tracker ordered by index.
	ListSteps(ctx context.Context, applicationID, tracker string) ([]models.StepRecord, error)
	// AppendStep stores rec at rec.Index. It returns ErrAlreadyExists when the
	// slot is taken, which is how concurrent advances of the same step collide.
	AppendStep(ctx context.Context, rec *models.StepRecord) error
	CreateAssignment(ctx context.Context, a *models.SupervisorAssignment) error
	GetAssignment(ctx context.Context, applicationID string) (*models.SupervisorAssignment, error)
}

type DecisionRepo interface {
	// RecordDecision inserts d and recomputes the application's
	// current_approvals from the decision rows in the same transaction. It
	// returns the recomputed count, or ErrAlreadyExists when the member has
	// already decided on this application.
	RecordDecision(ctx context.Context, d *models.CommitteeDecision) (int, error)
	ListDecisions(ctx context.Context, applicationID string) ([]models.CommitteeDecision, error)
}

type SequenceRepo interface {
	GetSequence(ctx context.Context, templateKind, language string) (*models.DocumentSequence, error)
	// CreateSequence inserts seq unless the key exists (ErrAlreadyExists).
	CreateSequence(ctx context.Context, seq *models.DocumentSequence) error
	// AdvanceSequence sets current_number to observed+1 only if it still
	// equals observed. The boolean reports whether the write won.
	AdvanceSequence(ctx context.Context, templateKind, language string, observed int64) (bool, error)
	// UpdateSequenceFormat changes prefix, digit width and suffix. The counter
	// is left untouched. Returns ErrNotFound for an unknown key.
	UpdateSequenceFormat(ctx context.Context, seq *models.DocumentSequence) error
	// ReserveNumber records a formatted number as issued for the key.
	// Returns ErrAlreadyExists if that exact number was handed out before,
	// which happens after a format change makes old and new values collide.
	ReserveNumber(ctx context.Context, templateKind, language, number string, value int64) error
}

type PrintRepo interface {
	GetPrintRecord(ctx context.Context, applicationID string) (*models.PrintRecord, error)
	// CreatePrintRecord returns ErrAlreadyExists when the application already
	// has an active record.
	CreatePrintRecord(ctx context.Context, rec *models.PrintRecord) error
	// TouchPrintRecord refreshes printed_at and returns the updated record,
	// or ErrNotFound.
	TouchPrintRecord(ctx context.Context, applicationID string, printedAt time.Time, printedBy string) (*models.PrintRecord, error)
}

type JobRepo interface {
	Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error)
	FetchNext(ctx context.Context) (*models.BackgroundJob, error)
	UpdateJob(ctx context.Context, j *models.BackgroundJob) error
	MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error
}

// Repository groups the stores the workflow engine depends on.
type Repository struct {
	Applications ApplicationRepo
	Steps        StepRepo
	Decisions    DecisionRepo
	Sequences    SequenceRepo
	Prints       PrintRepo
}
