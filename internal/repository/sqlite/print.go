package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

const documentDateLayout = "2006-01-02"

func (r *SQLiteRepo) GetPrintRecord(ctx context.Context, applicationID string) (*models.PrintRecord, error) {
	return scanPrintRecord(r.conn.QueryRow(ctx, `SELECT application_id, document_number, template_kind, language, document_date, printed_at, printed_by, created FROM print_records WHERE application_id = ?`, applicationID))
}

func (r *SQLiteRepo) CreatePrintRecord(ctx context.Context, rec *models.PrintRecord) error {
	if rec == nil {
		return fmt.Errorf("print record is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO print_records (application_id, document_number, template_kind, language, document_date, printed_at, printed_by, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(application_id) DO NOTHING`,
		rec.ApplicationID, rec.DocumentNumber, rec.TemplateKind, rec.Language, rec.DocumentDate.Format(documentDateLayout), millis(rec.PrintedAt), rec.PrintedBy, millis(rec.Created))
	if err != nil {
		return fmt.Errorf("insert print record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrAlreadyExists
	}

	return nil
}

func (r *SQLiteRepo) TouchPrintRecord(ctx context.Context, applicationID string, printedAt time.Time, printedBy string) (*models.PrintRecord, error) {
	var rec *models.PrintRecord
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE print_records SET printed_at = ?, printed_by = CASE WHEN ? = '' THEN printed_by ELSE ? END WHERE application_id = ?`, millis(printedAt), printedBy, printedBy, applicationID)
		if err != nil {
			return fmt.Errorf("touch print record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}

		rec, err = scanPrintRecord(tx.QueryRowContext(ctx, `SELECT application_id, document_number, template_kind, language, document_date, printed_at, printed_by, created FROM print_records WHERE application_id = ?`, applicationID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func scanPrintRecord(row *sql.Row) (*models.PrintRecord, error) {
	var (
		p         models.PrintRecord
		docDate   string
		printedAt int64
		created   int64
	)
	if err := row.Scan(&p.ApplicationID, &p.DocumentNumber, &p.TemplateKind, &p.Language, &docDate, &printedAt, &p.PrintedBy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d, err := time.Parse(documentDateLayout, docDate)
	if err != nil {
		return nil, fmt.Errorf("parse document date %q: %w", docDate, err)
	}
	p.DocumentDate = d
	p.PrintedAt = fromMillis(printedAt)
	p.Created = fromMillis(created)

	return &p, nil
}
