package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

func (r *SQLiteRepo) CreateApplication(ctx context.Context, a *models.Application) error {
	if a == nil {
		return fmt.Errorf("application is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO applications (id, student_id, internship_id, company_id, status, required_approvals, current_approvals, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		a.ID, a.StudentID, a.InternshipID, a.CompanyID, string(a.Status), a.RequiredApprovals, a.CurrentApprovals, millis(a.Created), millis(a.Updated))
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert application rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrAlreadyExists
	}

	return nil
}

func (r *SQLiteRepo) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, student_id, internship_id, company_id, status, required_approvals, current_approvals, created, updated FROM applications WHERE id = ?`, id)
	var (
		a       models.Application
		status  string
		created int64
		updated int64
	)
	if err := row.Scan(&a.ID, &a.StudentID, &a.InternshipID, &a.CompanyID, &status, &a.RequiredApprovals, &a.CurrentApprovals, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}
	a.Status = models.ApplicationStatus(status)
	a.Created = fromMillis(created)
	a.Updated = fromMillis(updated)

	return &a, nil
}

func (r *SQLiteRepo) UpdateStatus(ctx context.Context, change *models.StatusChange) error {
	if change == nil {
		return fmt.Errorf("status change is nil")
	}
	ts := millis(change.Created)

	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE applications SET status = ?, updated = ? WHERE id = ? AND status = ?`, string(change.To), ts, change.ApplicationID, string(change.From))
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM applications WHERE id = ?`, change.ApplicationID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return repository.ErrNotFound
			}
			return repository.ErrStale
		}

		res, err = tx.ExecContext(ctx, `INSERT INTO application_status_history (application_id, from_status, to_status, actor, note, override, created) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			change.ApplicationID, string(change.From), string(change.To), change.Actor, change.Note, change.Override, ts)
		if err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			change.ID = id
		}
		return nil
	})
}

func (r *SQLiteRepo) ListStatusHistory(ctx context.Context, applicationID string) ([]models.StatusChange, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, application_id, from_status, to_status, actor, note, override, created FROM application_status_history WHERE application_id = ? ORDER BY id`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		var (
			h        models.StatusChange
			from, to string
			created  int64
		)
		if err := rows.Scan(&h.ID, &h.ApplicationID, &from, &to, &h.Actor, &h.Note, &h.Override, &created); err != nil {
			return nil, err
		}
		h.From = models.ApplicationStatus(from)
		h.To = models.ApplicationStatus(to)
		h.Created = fromMillis(created)
		out = append(out, h)
	}

	return out, rows.Err()
}
