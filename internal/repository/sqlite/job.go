package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/placement/internal/models"
)

// Enqueue inserts a job into the jobs table and returns the new ID
func (r *SQLiteRepo) Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error) {
	if j == nil {
		return 0, fmt.Errorf("job is nil")
	}
	payload := string(j.Payload)
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	ts := now()
	q := `INSERT INTO jobs(type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated) VALUES(?,?,?,?,?,?,?,?,?)`
	res, err := r.conn.Exec(ctx, q, j.Type, payload, "queued", j.Attempts, j.MaxAttempts, j.Priority, millis(j.ScheduledAt), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("enqueue failed: %w", err)
	}

	return res.LastInsertId()
}

// FetchNext claims the next available job respecting priority and schedule.
// The claim flips the row to running inside the same transaction so two
// workers never pick up the same job.
func (r *SQLiteRepo) FetchNext(ctx context.Context) (*models.BackgroundJob, error) {
	var j *models.BackgroundJob
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		q := `SELECT id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated FROM jobs WHERE (status = 'queued' OR status = 'retry') AND (next_try_at IS NULL OR next_try_at <= ?) AND scheduled_at <= ? ORDER BY priority ASC, scheduled_at ASC LIMIT 1`
		ts := now()
		row := tx.QueryRowContext(ctx, q, ts, ts)
		var (
			id          int64
			typ         string
			payload     sql.NullString
			status      string
			attempts    int
			maxAttempts int
			priority    int
			scheduledAt int64
			nextTry     sql.NullInt64
			lastError   sql.NullString
			created     int64
			updated     int64
		)
		if err := row.Scan(&id, &typ, &payload, &status, &attempts, &maxAttempts, &priority, &scheduledAt, &nextTry, &lastError, &created, &updated); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}

			return fmt.Errorf("fetch next job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated = ? WHERE id = ?`, ts, id); err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		j = &models.BackgroundJob{
			ID:          id,
			Type:        typ,
			Status:      "running",
			Attempts:    attempts,
			MaxAttempts: maxAttempts,
			Priority:    priority,
			ScheduledAt: fromMillis(scheduledAt),
			Created:     fromMillis(created),
			Updated:     fromMillis(updated),
		}
		if payload.Valid {
			j.Payload = json.RawMessage(payload.String)
		}
		j.NextTryAt = nullMillis(nextTry)
		if lastError.Valid {
			j.LastError = lastError.String
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return j, nil
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *SQLiteRepo) UpdateJob(ctx context.Context, j *models.BackgroundJob) error {
	var nextTry any
	if j.NextTryAt != nil {
		nextTry = j.NextTryAt.UTC().UnixMilli()
	}
	q := `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, updated = ? WHERE id = ?`
	_, err := r.conn.Exec(ctx, q, j.Status, j.Attempts, nextTry, j.LastError, now(), j.ID)

	return err
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *SQLiteRepo) MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error {
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		payload := string(j.Payload)
		insert := `INSERT INTO dead_letter_jobs(job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?)`
		if _, err := tx.ExecContext(ctx, insert, j.ID, j.Type, payload, j.Attempts, j.LastError, time.Now().UTC().UnixMilli()); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return err
	})
}

// CountDeadLetters returns how many jobs ended in the dead-letter table.
func (r *SQLiteRepo) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM dead_letter_jobs`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
