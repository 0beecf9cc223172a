package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

func (r *SQLiteRepo) ListSteps(ctx context.Context, applicationID, tracker string) ([]models.StepRecord, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT application_id, tracker, step_index, step, notes, actor, appointment_at, appointment_location, completed FROM workflow_steps WHERE application_id = ? AND tracker = ? ORDER BY step_index`, applicationID, tracker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StepRecord
	for rows.Next() {
		var (
			s           models.StepRecord
			appointment sql.NullInt64
			completed   int64
		)
		if err := rows.Scan(&s.ApplicationID, &s.Tracker, &s.Index, &s.Step, &s.Notes, &s.Actor, &appointment, &s.AppointmentLocation, &completed); err != nil {
			return nil, err
		}
		s.AppointmentAt = nullMillis(appointment)
		s.Completed = fromMillis(completed)
		out = append(out, s)
	}

	return out, rows.Err()
}

// AppendStep relies on the (application_id, tracker, step_index) primary key:
// of two concurrent writers targeting the same slot only one row lands.
func (r *SQLiteRepo) AppendStep(ctx context.Context, rec *models.StepRecord) error {
	if rec == nil {
		return fmt.Errorf("step record is nil")
	}

	var appointment any
	if rec.AppointmentAt != nil {
		appointment = rec.AppointmentAt.UTC().UnixMilli()
	}
	res, err := r.conn.Exec(ctx, `INSERT INTO workflow_steps (application_id, tracker, step_index, step, notes, actor, appointment_at, appointment_location, completed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		rec.ApplicationID, rec.Tracker, rec.Index, rec.Step, rec.Notes, rec.Actor, appointment, rec.AppointmentLocation, millis(rec.Completed))
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
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

func (r *SQLiteRepo) CreateAssignment(ctx context.Context, a *models.SupervisorAssignment) error {
	if a == nil {
		return fmt.Errorf("assignment is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO supervisor_assignments (application_id, supervisor_id, assigned_by, assigned) VALUES (?, ?, ?, ?) ON CONFLICT(application_id) DO NOTHING`,
		a.ApplicationID, a.SupervisorID, a.AssignedBy, millis(a.Assigned))
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert assignment rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrAlreadyExists
	}

	return nil
}

func (r *SQLiteRepo) GetAssignment(ctx context.Context, applicationID string) (*models.SupervisorAssignment, error) {
	row := r.conn.QueryRow(ctx, `SELECT application_id, supervisor_id, assigned_by, assigned FROM supervisor_assignments WHERE application_id = ?`, applicationID)
	var (
		a        models.SupervisorAssignment
		assigned int64
	)
	if err := row.Scan(&a.ApplicationID, &a.SupervisorID, &a.AssignedBy, &assigned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Assigned = fromMillis(assigned)

	return &a, nil
}
