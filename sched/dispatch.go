package sched

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Submission is one batch executor job submission: the worker
// container, its environment, a static resource shape, and a hard
// duration ceiling.
type Submission struct {
	Image              string            `json:"image"`
	Command            []string          `json:"command,omitempty"`
	Env                map[string]string `json:"env"`
	CPUMillis          int               `json:"cpu_millis"`
	MemoryMiB          int               `json:"memory_mib"`
	MaxDurationSeconds int               `json:"max_duration_seconds"`
	Accelerator        string            `json:"accelerator,omitempty"`
}

// BatchExecutor submits jobs to the external batch-compute service.
// Submit failures are synchronous and terminal for that attempt.
type BatchExecutor interface {
	Submit(ctx context.Context, sub Submission) (handle string, err error)
}

// DispatcherConfig is the static resource shape and submission policy
// for executor submissions. Not derived from job attributes.
type DispatcherConfig struct {
	Image            string
	CPUMillis        int
	MemoryMiB        int
	Accelerator      string
	SubmitsPerMinute int // 0 = unlimited
}

// Dispatcher turns a reserved job into a batch executor submission.
// Dispatch runs asynchronously from the reservation transaction so a
// slow executor API never blocks admission.
type Dispatcher struct {
	store    *Store
	executor BatchExecutor
	cfg      DispatcherConfig
	limits   LimitsFunc
	limiter  *rate.Limiter
	log      *zap.SugaredLogger
	timeNow  func() time.Time // Injectable for testing
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store *Store, executor BatchExecutor, cfg DispatcherConfig, limits LimitsFunc, log *zap.SugaredLogger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmitsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.SubmitsPerMinute)/60.0), cfg.SubmitsPerMinute)
	}

	return &Dispatcher{
		store:    store,
		executor: executor,
		cfg:      cfg,
		limits:   limits,
		limiter:  limiter,
		log:      log,
		timeNow:  time.Now,
	}
}

// Launch dispatches a reserved job in the background. The goroutine
// owns its own error handling and writes the job's terminal state on
// submission failure; it is never coupled to the caller's transaction.
// The caller's cancellation is likewise shed: once a slot is reserved
// the submission must run to a resolution, not abort with the request
// and strand the job in launched.
func (d *Dispatcher) Launch(ctx context.Context, job *Job) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Dispatch(ctx, job); err != nil {
			d.log.Errorw("Dispatch failed",
				"job_id", job.ID,
				"error", err)
		}
	}()
}

// Wait blocks until all background dispatches have finished. Used
// during shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch submits a job to the batch executor and returns the
// executor handle. On submission failure the job is transitioned
// directly to failed - there is no automatic retry at this layer.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	sub := d.buildSubmission(job)

	handle, err := d.executor.Submit(ctx, sub)
	if err != nil {
		d.failSubmission(ctx, job.ID, err)
		return "", err
	}

	d.log.Infow("Submitted job to batch executor",
		"job_id", job.ID,
		"handle", handle,
		"max_duration_seconds", sub.MaxDurationSeconds)

	// Best-effort: the submission already happened, so a failure to
	// persist the handle only degrades observability. The sweeper
	// still covers the job through its launched-state deadline.
	if err := d.recordSubmission(ctx, job.ID, handle); err != nil {
		d.log.Warnw("Failed to record executor handle",
			"job_id", job.ID,
			"handle", handle,
			"error", err)
	}

	return handle, nil
}

// buildSubmission assembles the executor submission for a job. Worker
// tuning parameters are passed through opaquely.
func (d *Dispatcher) buildSubmission(job *Job) Submission {
	budget := RunBudget(job.DurationEstimateMS, d.limits())

	env := map[string]string{
		"SCRIBEQ_JOB_ID":        job.ID,
		"SCRIBEQ_INPUT_REF":     job.InputRef,
		"SCRIBEQ_OUTPUT_REF":    job.OutputRef,
		"SCRIBEQ_DURATION_MS":   strconv.FormatInt(job.DurationEstimateMS, 10),
		"SCRIBEQ_WORKER_PARAMS": string(job.WorkerParams),
	}

	return Submission{
		Image:              d.cfg.Image,
		Env:                env,
		CPUMillis:          d.cfg.CPUMillis,
		MemoryMiB:          d.cfg.MemoryMiB,
		MaxDurationSeconds: int(budget / time.Second),
		Accelerator:        d.cfg.Accelerator,
	}
}

// recordSubmission promotes the job from launched to processing and
// stores the executor handle.
func (d *Dispatcher) recordSubmission(ctx context.Context, jobID, handle string) error {
	return d.store.InTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusLaunched {
			// Swept or otherwise resolved while the submit call was in
			// flight; leave it alone.
			return nil
		}
		job.markProcessing(handle, d.timeNow().UTC())
		return updateJobTx(tx, job)
	})
}

// failSubmission applies the terminal failed transition after the
// executor rejected the submission. Errors here are logged, not
// returned: the submission error is the one the caller cares about,
// and the sweeper eventually catches any job this write misses.
func (d *Dispatcher) failSubmission(ctx context.Context, jobID string, submitErr error) {
	err := d.store.InTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		job.markFailed("batch executor submission failed: "+submitErr.Error(), d.timeNow().UTC())
		return updateJobTx(tx, job)
	})
	if err != nil {
		d.log.Errorw("Failed to mark job failed after submission error",
			"job_id", jobID,
			"submit_error", submitErr,
			"error", err)
	}
}
