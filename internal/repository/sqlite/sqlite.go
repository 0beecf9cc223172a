package sqlite

import (
	"database/sql"
	"io"
	"time"

	"log/slog"

	"github.com/garnizeh/placement/internal/db"
	"github.com/garnizeh/placement/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.ApplicationRepo = (*SQLiteRepo)(nil)
var _ repository.StepRepo = (*SQLiteRepo)(nil)
var _ repository.DecisionRepo = (*SQLiteRepo)(nil)
var _ repository.SequenceRepo = (*SQLiteRepo)(nil)
var _ repository.PrintRepo = (*SQLiteRepo)(nil)
var _ repository.JobRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

// Repository exposes the repo through the grouped interface used by the engine.
func (r *SQLiteRepo) Repository() *repository.Repository {
	return &repository.Repository{
		Applications: r,
		Steps:        r,
		Decisions:    r,
		Sequences:    r,
		Prints:       r,
	}
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return now()
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
