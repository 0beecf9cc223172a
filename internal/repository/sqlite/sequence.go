package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

func (r *SQLiteRepo) GetSequence(ctx context.Context, templateKind, language string) (*models.DocumentSequence, error) {
	row := r.conn.QueryRow(ctx, `SELECT template_kind, language, prefix, digit_width, suffix, current_number, updated FROM document_sequences WHERE template_kind = ? AND language = ?`, templateKind, language)
	var (
		s       models.DocumentSequence
		updated int64
	)
	if err := row.Scan(&s.TemplateKind, &s.Language, &s.Prefix, &s.DigitWidth, &s.Suffix, &s.CurrentNumber, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Updated = fromMillis(updated)

	return &s, nil
}

func (r *SQLiteRepo) CreateSequence(ctx context.Context, seq *models.DocumentSequence) error {
	if seq == nil {
		return fmt.Errorf("sequence is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO document_sequences (template_kind, language, prefix, digit_width, suffix, current_number, updated) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(template_kind, language) DO NOTHING`,
		seq.TemplateKind, seq.Language, seq.Prefix, seq.DigitWidth, seq.Suffix, seq.CurrentNumber, now())
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
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

// AdvanceSequence is the compare-and-set half of an allocation: the update
// only lands while current_number still holds the value the caller read.
func (r *SQLiteRepo) AdvanceSequence(ctx context.Context, templateKind, language string, observed int64) (bool, error) {
	res, err := r.conn.Exec(ctx, `UPDATE document_sequences SET current_number = ?, updated = ? WHERE template_kind = ? AND language = ? AND current_number = ?`,
		observed+1, now(), templateKind, language, observed)
	if err != nil {
		return false, fmt.Errorf("advance sequence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (r *SQLiteRepo) UpdateSequenceFormat(ctx context.Context, seq *models.DocumentSequence) error {
	if seq == nil {
		return fmt.Errorf("sequence is nil")
	}

	res, err := r.conn.Exec(ctx, `UPDATE document_sequences SET prefix = ?, digit_width = ?, suffix = ?, updated = ? WHERE template_kind = ? AND language = ?`,
		seq.Prefix, seq.DigitWidth, seq.Suffix, now(), seq.TemplateKind, seq.Language)
	if err != nil {
		return fmt.Errorf("update sequence format: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *SQLiteRepo) ReserveNumber(ctx context.Context, templateKind, language, number string, value int64) error {
	res, err := r.conn.Exec(ctx, `INSERT INTO issued_numbers (template_kind, language, document_number, value, issued) VALUES (?, ?, ?, ?, ?) ON CONFLICT(template_kind, language, document_number) DO NOTHING`,
		templateKind, language, number, value, now())
	if err != nil {
		return fmt.Errorf("reserve number: %w", err)
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
