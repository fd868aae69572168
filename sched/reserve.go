package sched

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Coordinator admits queued jobs under the global concurrency ceiling.
// The count check and the claim happen inside one store transaction:
// two callers can never both observe a free slot and both admit, so
// the ceiling holds by construction even across scheduler replicas.
type Coordinator struct {
	store   *Store
	limits  LimitsFunc
	log     *zap.SugaredLogger
	timeNow func() time.Time // Injectable for testing
}

// NewCoordinator creates a slot reservation coordinator.
func NewCoordinator(store *Store, limits LimitsFunc, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:   store,
		limits:  limits,
		log:     log,
		timeNow: time.Now,
	}
}

// TryReserveSlot attempts to claim a processing slot for the given
// queued job. Returns the updated job on success. Returns (nil, nil)
// when the ceiling is reached or the job is no longer queued - both
// are normal outcomes, not errors: the job simply stays where it is
// for the next admission attempt.
func (c *Coordinator) TryReserveSlot(ctx context.Context, jobID string) (*Job, error) {
	var reserved *Job

	err := c.store.InTx(ctx, func(tx *sql.Tx) error {
		inFlight, err := countInFlightTx(tx)
		if err != nil {
			return err
		}

		ceiling := c.limits().MaxProcessingJobs
		if inFlight >= ceiling {
			c.log.Debugw("All processing slots taken",
				"job_id", jobID,
				"in_flight", inFlight,
				"ceiling", ceiling)
			return nil
		}

		// Re-read inside the transaction: a concurrent caller may have
		// claimed (or the user canceled) this job since we saw it queued.
		job, err := getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusQueued {
			c.log.Debugw("Job no longer queued, skipping reservation",
				"job_id", jobID,
				"status", job.Status)
			return nil
		}

		job.markLaunched(c.timeNow().UTC())
		if err := updateJobTx(tx, job); err != nil {
			return err
		}

		reserved = job
		return nil
	})
	if err != nil {
		// Transaction conflicts surface as transient errors; the caller
		// must leave the job queued rather than failing it.
		return nil, err
	}

	if reserved != nil {
		c.log.Infow("Reserved processing slot",
			"job_id", reserved.ID,
			"owner_id", reserved.OwnerID)
	}
	return reserved, nil
}
