package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// Per-item failure kinds reported by PrintBatch.
const (
	FailureNotFound    = "not_found"
	FailureNotApproved = "not_approved"
	FailureInvalid     = "invalid"
	FailureError       = "error"
)

type PrintRequest struct {
	ApplicationIDs []string
	// DocumentDate is printed on the document; only its calendar day is kept.
	DocumentDate time.Time
	TemplateKind string
	Language     string
	Actor        string
}

type PrintFailure struct {
	ApplicationID string `json:"application_id"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`
}

type PrintBatchResult struct {
	Printed        []models.PrintRecord `json:"printed"`
	AlreadyPrinted []models.PrintRecord `json:"already_printed"`
	Failed         []PrintFailure       `json:"failed"`
}

// PrintManager issues print records. Each application gets its own number and
// keeps it for good; printing again is a no-op reported as already printed.
type PrintManager struct {
	*base
	seq             *Sequencer
	maxBatch        int
	requireApproval bool
}

// PrintBatch prints every application in r independently. A failed item is
// reported in Failed and never consumes a document number unless the failure
// happens after allocation.
func (p *PrintManager) PrintBatch(ctx context.Context, r PrintRequest) (*PrintBatchResult, error) {
	fields := map[string]string{}
	if len(r.ApplicationIDs) == 0 {
		fields["application_ids"] = "at least one application is required"
	} else if len(r.ApplicationIDs) > p.maxBatch {
		fields["application_ids"] = fmt.Sprintf("at most %d applications per batch", p.maxBatch)
	}
	if r.DocumentDate.IsZero() {
		fields["document_date"] = "is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	docDate := time.Date(r.DocumentDate.Year(), r.DocumentDate.Month(), r.DocumentDate.Day(), 0, 0, 0, 0, time.UTC)

	res := &PrintBatchResult{
		Printed:        []models.PrintRecord{},
		AlreadyPrinted: []models.PrintRecord{},
		Failed:         []PrintFailure{},
	}
	seen := make(map[string]bool, len(r.ApplicationIDs))
	for _, id := range r.ApplicationIDs {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, already, err := p.printOne(ctx, id, docDate, r)
		switch {
		case err != nil:
			f := PrintFailure{ApplicationID: id, Kind: failureKind(err), Message: err.Error()}
			res.Failed = append(res.Failed, f)
			metrics.RecordPrint("failed")
			p.logger.Warn("print failed", slog.String("application_id", id), slog.String("kind", f.Kind), slog.Any("err", err))
		case already:
			res.AlreadyPrinted = append(res.AlreadyPrinted, *rec)
			metrics.RecordPrint("already_printed")
		default:
			res.Printed = append(res.Printed, *rec)
			metrics.RecordPrint("printed")
		}
	}

	p.logger.Info("print batch",
		slog.Int("printed", len(res.Printed)),
		slog.Int("already_printed", len(res.AlreadyPrinted)),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (p *PrintManager) printOne(ctx context.Context, id string, docDate time.Time, r PrintRequest) (*models.PrintRecord, bool, error) {
	app, err := p.application(ctx, id)
	if err != nil {
		return nil, false, err
	}

	// A printed application keeps its record even if its status later moved.
	existing, err := p.repo.Prints.GetPrintRecord(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("load print record: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	if p.requireApproval && app.Status != models.StatusApproved && app.Status != models.StatusCompleted {
		return nil, false, &TransitionError{Scope: "print", Attempted: "print", Current: string(app.Status), Expected: string(models.StatusApproved)}
	}

	alloc, err := p.seq.allocate(ctx, r.TemplateKind, r.Language)
	if err != nil {
		return nil, false, err
	}

	ts := p.now()
	rec := &models.PrintRecord{
		ApplicationID:  id,
		DocumentNumber: alloc.Number,
		TemplateKind:   alloc.TemplateKind,
		Language:       alloc.Language,
		DocumentDate:   docDate,
		PrintedAt:      ts,
		PrintedBy:      r.Actor,
		Created:        ts,
	}
	if err := p.repo.Prints.CreatePrintRecord(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("create print record: %w", err)
		}
		// A concurrent batch printed it first; the allocated number is a gap.
		p.logger.Info("print raced, number discarded", slog.String("application_id", id), slog.String("document_number", alloc.Number))
		existing, err := p.repo.Prints.GetPrintRecord(ctx, id)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("reload print record: %w", err)
		}
		return existing, true, nil
	}

	p.emit(ctx, EventDocumentPrinted, id, r.Actor, map[string]any{
		"document_number": rec.DocumentNumber,
		"document_date":   docDate.Format(time.DateOnly),
	})
	return rec, false, nil
}

// Reprint refreshes printed_at of an existing record. The document number is
// never reallocated.
func (p *PrintManager) Reprint(ctx context.Context, applicationID, actor string) (*models.PrintRecord, error) {
	if strings.TrimSpace(applicationID) == "" {
		return nil, invalid("application_id", "is required")
	}
	rec, err := p.repo.Prints.TouchPrintRecord(ctx, applicationID, p.now(), actor)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("print record", applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("reprint: %w", err)
	}
	p.emit(ctx, EventDocumentReprinted, applicationID, actor, map[string]any{"document_number": rec.DocumentNumber})
	return rec, nil
}

func (p *PrintManager) Get(ctx context.Context, applicationID string) (*models.PrintRecord, error) {
	rec, err := p.repo.Prints.GetPrintRecord(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load print record: %w", err)
	}
	if rec == nil {
		return nil, notFound("print record", applicationID)
	}
	return rec, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrInvalidTransition):
		return FailureNotApproved
	case errors.Is(err, ErrValidation):
		return FailureInvalid
	}
	return FailureError
}
