package sched

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is the front door of the scheduler: job submission, listing,
// cancel/retry, and the admission triggers that keep the queue
// draining. It owns the live scheduler limits so config reloads reach
// every component through one place.
type Service struct {
	store       *Store
	coordinator *Coordinator
	dispatcher  *Dispatcher
	sweeper     *Sweeper
	validator   *Validator
	log         *zap.SugaredLogger

	mu     sync.RWMutex
	limits Limits
}

// ServiceConfig assembles a Service.
type ServiceConfig struct {
	DB            *sql.DB
	Executor      BatchExecutor
	Dispatcher    DispatcherConfig
	Limits        Limits
	SweepInterval time.Duration
}

// NewService wires the scheduler components around a shared store.
func NewService(cfg ServiceConfig, log *zap.SugaredLogger) *Service {
	svc := &Service{
		store:  NewStore(cfg.DB),
		limits: cfg.Limits,
		log:    log,
	}

	limitsFn := svc.CurrentLimits
	svc.coordinator = NewCoordinator(svc.store, limitsFn, log.Named("reserve"))
	svc.dispatcher = NewDispatcher(svc.store, cfg.Executor, cfg.Dispatcher, limitsFn, log.Named("dispatch"))
	svc.sweeper = NewSweeper(svc.store, limitsFn, cfg.SweepInterval, log.Named("sweeper"))
	svc.validator = NewValidator(svc.store, log.Named("transition"))

	return svc
}

// CurrentLimits returns the live scheduler limits.
func (s *Service) CurrentLimits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// UpdateLimits replaces the scheduler limits (config reload). The new
// ceiling applies to the next admission decision; in-flight jobs keep
// their slots.
func (s *Service) UpdateLimits(limits Limits) {
	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
	s.log.Infow("Scheduler limits updated",
		"max_processing_jobs", limits.MaxProcessingJobs,
		"base_timeout", limits.BaseTimeout,
		"timeout_multiplier", limits.TimeoutMultiplier)
}

// Store exposes the job store for read-side consumers (CLI).
func (s *Service) Store() *Store {
	return s.store
}

// CompletionHandler builds the completion handler wired to this
// service's refill trigger.
func (s *Service) CompletionHandler(notifier OwnerNotifier) *CompletionHandler {
	onSlotFree := func() {
		// Refill runs in the background: event consumers must not
		// block on admission.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.FillSlots(ctx)
		}()
	}
	return NewCompletionHandler(s.store, notifier, onSlotFree, s.log.Named("notify"))
}

// SubmitParams describes a new transcription job request.
type SubmitParams struct {
	OwnerID            string
	OwnerContact       string
	InputRef           string
	DurationEstimateMS int64
	WorkerParams       json.RawMessage
}

// SubmitJob creates a queued job and immediately attempts admission
// (admission trigger (a)). The returned job reflects the post-admission
// state: queued if all slots are taken, launched if a slot was claimed
// and dispatch is underway.
func (s *Service) SubmitJob(ctx context.Context, params SubmitParams) (*Job, error) {
	job, err := NewJob(params.OwnerID, params.OwnerContact, params.InputRef,
		params.DurationEstimateMS, params.WorkerParams)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.log.Infow("Job submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"duration_estimate_ms", job.DurationEstimateMS)

	reserved, err := s.coordinator.TryReserveSlot(ctx, job.ID)
	if err != nil {
		// Transient admission failure leaves the job queued for the
		// next trigger; the submission itself succeeded.
		s.log.Warnw("Admission attempt failed, job stays queued",
			"job_id", job.ID,
			"error", err)
		return job, nil
	}
	if reserved == nil {
		return job, nil
	}

	s.dispatcher.Launch(ctx, reserved)
	return reserved, nil
}

// FillSlots promotes queued jobs oldest-first while slots remain
// (admission trigger (b)). Returns the number of jobs admitted.
func (s *Service) FillSlots(ctx context.Context) int {
	admitted := 0

	queued, err := s.store.ListQueued(ctx, s.CurrentLimits().MaxProcessingJobs)
	if err != nil {
		s.log.Warnw("Failed to list queued jobs for refill", "error", err)
		return 0
	}

	for _, job := range queued {
		reserved, err := s.coordinator.TryReserveSlot(ctx, job.ID)
		if err != nil {
			s.log.Warnw("Refill admission attempt failed",
				"job_id", job.ID,
				"error", err)
			continue
		}
		if reserved == nil {
			// Either the ceiling is reached (stop: later jobs cannot fit
			// either) or this job was concurrently claimed (it no longer
			// needs a slot; keep going).
			current, getErr := s.store.GetJob(ctx, job.ID)
			if getErr == nil && current.Status != StatusQueued {
				continue
			}
			break
		}
		s.dispatcher.Launch(ctx, reserved)
		admitted++
	}

	return admitted
}

// GetJob returns one job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns an owner's jobs (all jobs when ownerID is empty),
// sweeping timeouts and refilling free slots first: a user polling for
// status also drives cleanup and admission. Both side effects are
// best-effort and never fail the read.
func (s *Service) ListJobs(ctx context.Context, ownerID string, limit int) ([]*Job, error) {
	if _, err := s.sweeper.SweepTimeouts(ctx); err != nil {
		s.log.Warnw("Read-path sweep failed", "error", err)
	}
	s.FillSlots(ctx)

	if ownerID == "" {
		return s.store.ListJobs(ctx, nil, limit)
	}
	return s.store.ListByOwner(ctx, ownerID, limit)
}

// Cancel requests cancellation of a queued job. Jobs already in flight
// are rejected; timeout is the only mechanism that reclaims a stuck
// in-flight job.
func (s *Service) Cancel(ctx context.Context, jobID string) (Status, error) {
	return s.validator.ApplyUserTransition(ctx, jobID, StatusCanceled)
}

// Retry returns a terminal job to the queue and immediately attempts
// admission.
func (s *Service) Retry(ctx context.Context, jobID string) (Status, error) {
	status, err := s.validator.ApplyUserTransition(ctx, jobID, StatusQueued)
	if err != nil {
		return status, err
	}

	if reserved, err := s.coordinator.TryReserveSlot(ctx, jobID); err != nil {
		s.log.Warnw("Post-retry admission attempt failed",
			"job_id", jobID,
			"error", err)
	} else if reserved != nil {
		s.dispatcher.Launch(ctx, reserved)
		return reserved.Status, nil
	}

	return status, nil
}

// Stats summarizes the queue by status.
type Stats struct {
	Queued     int `json:"queued"`
	Launched   int `json:"launched"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Canceled   int `json:"canceled"`
	Total      int `json:"total"`
}

// GetStats counts jobs by status.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, status := range []Status{StatusQueued, StatusLaunched, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCanceled} {
		count, err := s.store.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		switch status {
		case StatusQueued:
			stats.Queued = count
		case StatusLaunched:
			stats.Launched = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCanceled:
			stats.Canceled = count
		}
		stats.Total += count
	}
	return stats, nil
}

// StartSweeper begins the periodic timeout sweep.
func (s *Service) StartSweeper(ctx context.Context) {
	s.sweeper.Start(ctx)
}

// StopSweeper stops the periodic timeout sweep and waits for
// outstanding dispatches.
func (s *Service) StopSweeper() {
	s.sweeper.Stop()
	s.dispatcher.Wait()
}
