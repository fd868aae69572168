// Package sched implements the transcription job queue: slot-capped
// admission, batch executor dispatch, timeout sweeping, user-initiated
// cancel/retry, and idempotent completion handling. All shared state
// lives in the SQLite job record store; correctness under concurrent
// schedulers comes from store transactions, never from in-process
// caches.
package sched

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/voxhall/scribeq/errors"
)

// Status represents the current state of a job
type Status string

const (
	// StatusQueued: waiting for a processing slot.
	StatusQueued Status = "queued"
	// StatusLaunched: a slot is reserved and the executor submission is
	// outstanding. Counts against the concurrency ceiling.
	StatusLaunched Status = "launched"
	// StatusProcessing: the executor accepted the submission.
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusLaunched, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is terminal. Terminal states
// are only left via an explicit user retry, never by background sweeps.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsInFlight reports whether a job in this status holds a processing
// slot (and is therefore subject to the timeout sweep).
func (s Status) IsInFlight() bool {
	return s == StatusLaunched || s == StatusProcessing
}

// Job is one transcription work item, tracked queued -> launched ->
// processing -> terminal. One row in the jobs table.
type Job struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	OwnerContact       string          `json:"owner_contact,omitempty"`
	Status             Status          `json:"status"`
	InputRef           string          `json:"input_ref"`
	OutputRef          string          `json:"output_ref,omitempty"`
	DurationEstimateMS int64           `json:"duration_estimate_ms"`
	WorkerParams       json.RawMessage `json:"worker_params,omitempty"` // language hint, speaker hints - opaque to the scheduler
	ErrorMessage       string          `json:"error_message,omitempty"`
	ExecutorHandle     string          `json:"executor_handle,omitempty"`
	RetryCount         int             `json:"retry_count,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ProcessStartedAt   *time.Time      `json:"process_started_at,omitempty"`
	ProcessEndedAt     *time.Time      `json:"process_ended_at,omitempty"`
}

// NewJob creates a new queued job for the given owner and input.
// workerParams is passed through to the worker untouched.
func NewJob(ownerID, ownerContact, inputRef string, durationEstimateMS int64, workerParams json.RawMessage) (*Job, error) {
	if ownerID == "" {
		return nil, errors.New("ownerID cannot be empty")
	}
	if inputRef == "" {
		return nil, errors.New("inputRef cannot be empty")
	}

	now := time.Now().UTC()
	return &Job{
		ID:                 "job-" + uuid.NewString(),
		OwnerID:            ownerID,
		OwnerContact:       ownerContact,
		Status:             StatusQueued,
		InputRef:           inputRef,
		DurationEstimateMS: durationEstimateMS,
		WorkerParams:       workerParams,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// markLaunched reserves the job: the slot is claimed and the executor
// submission is about to be made.
func (j *Job) markLaunched(now time.Time) {
	j.Status = StatusLaunched
	j.ProcessStartedAt = &now
	j.UpdatedAt = now
}

// markProcessing records that the executor accepted the submission.
func (j *Job) markProcessing(handle string, now time.Time) {
	j.Status = StatusProcessing
	j.ExecutorHandle = handle
	j.UpdatedAt = now
}

// markCompleted applies a successful terminal transition.
func (j *Job) markCompleted(outputRef string, now time.Time) {
	j.Status = StatusCompleted
	if outputRef != "" {
		j.OutputRef = outputRef
	}
	j.ErrorMessage = ""
	j.ProcessEndedAt = &now
	j.UpdatedAt = now
}

// markFailed applies a failed terminal transition with a message.
func (j *Job) markFailed(message string, now time.Time) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProcessEndedAt = &now
	j.UpdatedAt = now
}

// markCanceled cancels a queued job.
func (j *Job) markCanceled(now time.Time) {
	j.Status = StatusCanceled
	j.UpdatedAt = now
}

// resetForRetry returns a terminal job to the queue, clearing the
// timing and error fields from the previous attempt.
func (j *Job) resetForRetry(now time.Time) {
	j.Status = StatusQueued
	j.ErrorMessage = ""
	j.OutputRef = ""
	j.ExecutorHandle = ""
	j.ProcessStartedAt = nil
	j.ProcessEndedAt = nil
	j.RetryCount++
	j.UpdatedAt = now
}

// Limits carries the scheduler parameters shared by admission,
// dispatch, and sweeping. Read through a LimitsFunc so config reloads
// take effect without restarting components.
type Limits struct {
	MaxProcessingJobs int
	BaseTimeout       time.Duration
	TimeoutMultiplier float64
}

// LimitsFunc returns the current scheduler limits.
type LimitsFunc func() Limits

// RunBudget computes the wall-clock budget for a job:
// max(base, duration estimate * multiplier). The same function drives
// the executor's hard duration ceiling and the sweeper's deadline.
func RunBudget(durationEstimateMS int64, limits Limits) time.Duration {
	scaled := time.Duration(float64(durationEstimateMS)*limits.TimeoutMultiplier) * time.Millisecond
	if scaled < limits.BaseTimeout {
		return limits.BaseTimeout
	}
	return scaled
}

// Deadline returns the instant the job times out, or the zero time if
// the job has not started processing.
func (j *Job) Deadline(limits Limits) time.Time {
	if j.ProcessStartedAt == nil {
		return time.Time{}
	}
	return j.ProcessStartedAt.Add(RunBudget(j.DurationEstimateMS, limits))
}
