package sched

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/voxhall/scribeq/errors"
)

// Validator gates user-initiated status changes. Only two actions
// exist: cancel (request StatusCanceled) and retry (request
// StatusQueued). Each runs as a single read-check-write transaction so
// a concurrent system transition cannot slip between the read and the
// write.
type Validator struct {
	store   *Store
	log     *zap.SugaredLogger
	timeNow func() time.Time // Injectable for testing
}

// NewValidator creates a state transition validator.
func NewValidator(store *Store, log *zap.SugaredLogger) *Validator {
	return &Validator{
		store:   store,
		log:     log,
		timeNow: time.Now,
	}
}

// ApplyUserTransition applies a user-requested status change and
// returns the job's resulting status.
//
// Rules:
//   - canceled: legal only from queued; re-canceling a canceled job is
//     a no-op success
//   - queued (retry): legal only from completed, failed, or canceled;
//     clears process_started_at, process_ended_at, and error_message.
//     Retry has no idempotent form: a queued job is rejected, it was
//     never retried
//
// Illegal requests return ErrInvalidTransition with the job unchanged.
func (v *Validator) ApplyUserTransition(ctx context.Context, jobID string, requested Status) (Status, error) {
	var result Status

	err := v.store.InTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(tx, jobID)
		if err != nil {
			return err
		}

		// Re-canceling a canceled job is idempotent. Retry does not get
		// the same shortcut: requesting queued on a queued job must be
		// rejected, not silently absorbed.
		if requested == StatusCanceled && job.Status == StatusCanceled {
			result = job.Status
			return nil
		}

		switch requested {
		case StatusCanceled:
			if job.Status != StatusQueued {
				return errors.NewInvalidTransition(
					"cannot cancel job %s in status %s (only queued jobs can be canceled)",
					jobID, job.Status)
			}
			job.markCanceled(v.timeNow().UTC())

		case StatusQueued:
			if !job.Status.IsTerminal() {
				return errors.NewInvalidTransition(
					"cannot retry job %s in status %s (only completed, failed, or canceled jobs can be retried)",
					jobID, job.Status)
			}
			job.resetForRetry(v.timeNow().UTC())

		default:
			return errors.NewInvalidTransition(
				"status %s cannot be requested directly", requested)
		}

		if err := updateJobTx(tx, job); err != nil {
			return err
		}
		result = job.Status
		return nil
	})
	if err != nil {
		return "", err
	}

	v.log.Infow("Applied user transition",
		"job_id", jobID,
		"requested", requested,
		"status", result)
	return result, nil
}
