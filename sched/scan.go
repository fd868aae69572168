package sched

import (
	"database/sql"
)

// jobScanArgs holds the nullable column targets for scanning a job row.
type jobScanArgs struct {
	OwnerContact   sql.NullString
	OutputRef      sql.NullString
	WorkerParams   sql.NullString
	ErrorMessage   sql.NullString
	ExecutorHandle sql.NullString
	StartedAt      sql.NullTime
	EndedAt        sql.NullTime
}

// jobSelectColumns is the column list every job SELECT uses, in the
// order expected by jobScanTargets.
const jobSelectColumns = `id, owner_id, owner_contact, status, input_ref, output_ref,
	duration_estimate_ms, worker_params, error_message, executor_handle,
	retry_count, created_at, updated_at, process_started_at, process_ended_at`

// jobScanTargets returns scan destinations for the job and its
// nullable columns, matching jobSelectColumns order.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.OwnerID,
		&args.OwnerContact,
		&job.Status,
		&job.InputRef,
		&args.OutputRef,
		&job.DurationEstimateMS,
		&args.WorkerParams,
		&args.ErrorMessage,
		&args.ExecutorHandle,
		&job.RetryCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.EndedAt,
	}
}

// applyScanArgs copies the scanned nullable columns onto the job.
func applyScanArgs(job *Job, args *jobScanArgs) {
	if args.OwnerContact.Valid {
		job.OwnerContact = args.OwnerContact.String
	}
	if args.OutputRef.Valid {
		job.OutputRef = args.OutputRef.String
	}
	if args.WorkerParams.Valid {
		job.WorkerParams = []byte(args.WorkerParams.String)
	}
	if args.ErrorMessage.Valid {
		job.ErrorMessage = args.ErrorMessage.String
	}
	if args.ExecutorHandle.Valid {
		job.ExecutorHandle = args.ExecutorHandle.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.ProcessStartedAt = &t
	}
	if args.EndedAt.Valid {
		t := args.EndedAt.Time
		job.ProcessEndedAt = &t
	}
}

// scanJobRow scans a single row (QueryRow result) into a job.
func scanJobRow(row *sql.Row) (*Job, error) {
	var job Job
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	applyScanArgs(&job, args)
	return &job, nil
}

// scanJobRows scans all rows from a multi-row query.
func scanJobRows(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		args := &jobScanArgs{}
		if err := rows.Scan(jobScanTargets(&job, args)...); err != nil {
			return nil, err
		}
		applyScanArgs(&job, args)
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
