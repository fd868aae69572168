package sched

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

// timeoutMessage is the fixed diagnostic written to jobs the sweeper
// force-fails.
const timeoutMessage = "processing timed out"

// maxSweepBatch bounds how many in-flight jobs one sweep inspects.
// The ceiling keeps the in-flight set small, so this is generous.
const maxSweepBatch = 1000

// Sweeper recovers jobs that never receive a completion notification
// (executor crash, lost message, orphaned submission). Any launched or
// processing job past its computed deadline is force-failed. Runs on a
// fixed interval and additionally from the list read path.
type Sweeper struct {
	store   *Store
	limits  LimitsFunc
	log     *zap.SugaredLogger
	timeNow func() time.Time // Injectable for testing

	interval time.Duration
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSweeper creates a timeout sweeper. interval of 0 disables the
// periodic loop (read-path sweeps still work).
func NewSweeper(store *Store, limits LimitsFunc, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		store:    store,
		limits:   limits,
		log:      log,
		timeNow:  time.Now,
		interval: interval,
	}
}

// SweepTimeouts scans in-flight jobs and force-fails any past their
// deadline. Each job transition is independent: a failure updating one
// job is logged and does not abort the sweep of the others. Returns
// the number of jobs failed.
func (s *Sweeper) SweepTimeouts(ctx context.Context) (int, error) {
	jobs, err := s.store.ListInFlight(ctx, maxSweepBatch)
	if err != nil {
		return 0, err
	}

	limits := s.limits()
	now := s.timeNow().UTC()
	failed := 0

	for _, job := range jobs {
		if job.ProcessStartedAt == nil {
			// Invariant violation: in-flight without a start time.
			// Skip rather than guess a deadline.
			s.log.Warnw("In-flight job missing process_started_at",
				"job_id", job.ID,
				"status", job.Status)
			continue
		}
		if !now.After(job.Deadline(limits)) {
			continue
		}

		if err := s.failTimedOut(ctx, job.ID, limits); err != nil {
			s.log.Warnw("Failed to sweep timed-out job",
				"job_id", job.ID,
				"error", err)
			continue
		}

		s.log.Infow("Swept timed-out job",
			"job_id", job.ID,
			"started_at", job.ProcessStartedAt,
			"deadline", job.Deadline(limits))
		failed++
	}

	return failed, nil
}

// failTimedOut applies the timeout transition to one job, re-checking
// its state inside the transaction: a completion may have landed since
// the scan, and terminal states are never overwritten by sweeps.
func (s *Sweeper) failTimedOut(ctx context.Context, jobID string, limits Limits) error {
	return s.store.InTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.IsInFlight() || job.ProcessStartedAt == nil {
			return nil // Resolved while we were scanning
		}

		now := s.timeNow().UTC()
		if !now.After(job.Deadline(limits)) {
			return nil
		}

		job.markFailed(timeoutMessage, now)
		return updateJobTx(tx, job)
	})
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start(parent context.Context) {
	if s.interval <= 0 {
		s.log.Infow("Periodic sweeping disabled (zero interval)")
		return
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(parent)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	s.log.Infow("Timeout sweeper started", "interval", s.interval)
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Infow("Timeout sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepTimeouts(s.ctx); err != nil {
				s.log.Warnw("Sweep failed", "error", err)
			}
		}
	}
}

// SetInterval updates the sweep interval on config reload. Takes
// effect on the next restart of the loop; callers typically Stop and
// Start around it.
func (s *Sweeper) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}
