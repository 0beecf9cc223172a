package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// RecordDecision writes the decision and rematerializes current_approvals from
// the decision rows. The count is never incremented in place.
func (r *SQLiteRepo) RecordDecision(ctx context.Context, d *models.CommitteeDecision) (int, error) {
	if d == nil {
		return 0, fmt.Errorf("decision is nil")
	}

	var approved int
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM applications WHERE id = ?`, d.ApplicationID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return repository.ErrNotFound
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO committee_decisions (application_id, member_id, status, reason, created) VALUES (?, ?, ?, ?, ?) ON CONFLICT(application_id, member_id) DO NOTHING`,
			d.ApplicationID, d.MemberID, string(d.Status), d.Reason, millis(d.Created))
		if err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrAlreadyExists
		}
		if id, err := res.LastInsertId(); err == nil {
			d.ID = id
		}

		if _, err := tx.ExecContext(ctx, `UPDATE applications SET current_approvals = (SELECT COUNT(1) FROM committee_decisions WHERE application_id = ? AND status = 'approved'), updated = ? WHERE id = ?`, d.ApplicationID, now(), d.ApplicationID); err != nil {
			return fmt.Errorf("recompute approvals: %w", err)
		}

		return tx.QueryRowContext(ctx, `SELECT current_approvals FROM applications WHERE id = ?`, d.ApplicationID).Scan(&approved)
	})
	if err != nil {
		return 0, err
	}

	return approved, nil
}

func (r *SQLiteRepo) ListDecisions(ctx context.Context, applicationID string) ([]models.CommitteeDecision, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, application_id, member_id, status, reason, created FROM committee_decisions WHERE application_id = ? ORDER BY id`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CommitteeDecision
	for rows.Next() {
		var (
			d       models.CommitteeDecision
			status  string
			created int64
		)
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.MemberID, &status, &d.Reason, &created); err != nil {
			return nil, err
		}
		d.Status = models.DecisionStatus(status)
		d.Created = fromMillis(created)
		out = append(out, d)
	}

	return out, rows.Err()
}
