package sched

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/voxhall/scribeq/errors"
)

const (
	// txRetryAttempts bounds how many times a conflicting transaction
	// is retried before surfacing ErrConflictRetryExhausted.
	txRetryAttempts = 3
	// txRetryBackoff is the pause between conflict retries.
	txRetryBackoff = 50 * time.Millisecond
)

// Store handles persistence of transcription jobs. All status
// mutations go through InTx so concurrent schedulers serialize on the
// store, not on process memory.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InTx runs fn inside a write transaction, retrying a bounded number
// of times when the store reports a lock conflict. fn may be invoked
// more than once and must be idempotent up to its writes.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(txRetryBackoff):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
	}
	return errors.Wrapf(errors.ErrConflictRetryExhausted, "after %d attempts: %v", txRetryAttempts, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// isBusy reports whether the error is a SQLite lock conflict that a
// retry can resolve.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (
			id, owner_id, owner_contact, status, input_ref, output_ref,
			duration_estimate_ms, worker_params, error_message, executor_handle,
			retry_count, created_at, updated_at, process_started_at, process_ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		nullString(job.OwnerContact),
		job.Status,
		job.InputRef,
		nullString(job.OutputRef),
		job.DurationEstimateMS,
		nullString(string(job.WorkerParams)),
		nullString(job.ErrorMessage),
		nullString(job.ExecutorHandle),
		job.RetryCount,
		job.CreatedAt,
		job.UpdatedAt,
		job.ProcessStartedAt,
		job.ProcessEndedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJobRow(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// getJobTx reads a job inside an open transaction.
func getJobTx(tx *sql.Tx, id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJobRow(tx.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// UpdateJob writes the mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, updateJobQuery, updateJobArgs(job)...)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return nil
}

// updateJobTx writes the mutable fields of a job inside a transaction.
func updateJobTx(tx *sql.Tx, job *Job) error {
	_, err := tx.Exec(updateJobQuery, updateJobArgs(job)...)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	return nil
}

const updateJobQuery = `
	UPDATE jobs
	SET status = ?,
	    output_ref = ?,
	    worker_params = ?,
	    error_message = ?,
	    executor_handle = ?,
	    retry_count = ?,
	    updated_at = ?,
	    process_started_at = ?,
	    process_ended_at = ?
	WHERE id = ?
`

func updateJobArgs(job *Job) []interface{} {
	return []interface{}{
		job.Status,
		nullString(job.OutputRef),
		nullString(string(job.WorkerParams)),
		nullString(job.ErrorMessage),
		nullString(job.ExecutorHandle),
		job.RetryCount,
		job.UpdatedAt,
		job.ProcessStartedAt,
		job.ProcessEndedAt,
		job.ID,
	}
}

// countInFlightTx counts jobs currently holding a slot (launched or
// processing) inside an open transaction. This is the live count every
// admission decision derives from.
func countInFlightTx(tx *sql.Tx) (int, error) {
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`,
		StatusLaunched, StatusProcessing).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count in-flight jobs")
	}
	return count, nil
}

// CountByStatus returns the number of jobs with the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s jobs", status)
	}
	return count, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status *Status, limit int) ([]*Job, error) {
	var rows *sql.Rows
	var err error

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM jobs`
	if status != nil {
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, *status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, baseQuery+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan jobs")
	}
	return jobs, nil
}

// ListByOwner returns an owner's jobs newest-first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for owner %s", ownerID)
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan owner jobs")
	}
	return jobs, nil
}

// ListInFlight returns launched and processing jobs oldest-first, the
// order the sweeper inspects them in.
func (s *Store) ListInFlight(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status IN (?, ?)
		ORDER BY process_started_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, StatusLaunched, StatusProcessing, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list in-flight jobs")
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan in-flight jobs")
	}
	return jobs, nil
}

// ListQueued returns queued jobs oldest-first, the admission order.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, StatusQueued, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued jobs")
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan queued jobs")
	}
	return jobs, nil
}

// nullString converts "" to NULL for nullable text columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
