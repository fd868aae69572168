package sched

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a notification channel event.
type EventType string

const (
	EventNewJob       EventType = "new_job"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCanceled  EventType = "job_canceled"
)

// Event is one message from the notification channel. The channel
// guarantees neither ordering nor single delivery; the handler absorbs
// duplicates through the current-state check, not sequence numbers.
type Event struct {
	JobID        string    `json:"job_id"`
	EventType    EventType `json:"event_type"`
	OutputRef    string    `json:"output_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// OwnerNotifier delivers a best-effort side-notification to the job's
// owner. Calls are fire-and-forget: they never block or fail the state
// update.
type OwnerNotifier interface {
	NotifyOwner(job *Job)
}

// CompletionHandler applies terminal transitions arriving
// asynchronously from the notification channel.
type CompletionHandler struct {
	store      *Store
	notifier   OwnerNotifier // optional
	onSlotFree func()        // optional: triggers queue refill after a slot opens
	log        *zap.SugaredLogger
	timeNow    func() time.Time // Injectable for testing
}

// NewCompletionHandler creates a completion handler. notifier and
// onSlotFree may be nil.
func NewCompletionHandler(store *Store, notifier OwnerNotifier, onSlotFree func(), log *zap.SugaredLogger) *CompletionHandler {
	return &CompletionHandler{
		store:      store,
		notifier:   notifier,
		onSlotFree: onSlotFree,
		log:        log,
		timeNow:    time.Now,
	}
}

// HandleNotification applies one notification channel event.
// Duplicate deliveries are detected by comparing the job's current
// state against the event's implied terminal state and succeed without
// writing. Unknown event types are logged and ignored.
func (h *CompletionHandler) HandleNotification(ctx context.Context, event Event) error {
	var impliedStatus Status
	switch event.EventType {
	case EventJobCompleted:
		impliedStatus = StatusCompleted
	case EventJobFailed:
		impliedStatus = StatusFailed
	case EventJobCanceled:
		impliedStatus = StatusCanceled
	case EventNewJob:
		// Admission trigger, not a terminal transition.
		if h.onSlotFree != nil {
			h.onSlotFree()
		}
		return nil
	default:
		h.log.Warnw("Ignoring unknown notification event type",
			"job_id", event.JobID,
			"event_type", event.EventType)
		return nil
	}

	// Normalize the failure message up front: the stored row carries
	// the fallback, so the duplicate comparison must see it too.
	failureMessage := event.ErrorMessage
	if impliedStatus == StatusFailed && failureMessage == "" {
		failureMessage = "job failed (no detail from executor)"
	}

	var updated *Job
	err := h.store.InTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(tx, event.JobID)
		if err != nil {
			return err
		}

		// At-least-once delivery tolerance: already in the exact state
		// this event implies means duplicate delivery.
		if job.Status == impliedStatus &&
			(impliedStatus != StatusFailed || job.ErrorMessage == failureMessage) {
			h.log.Debugw("Duplicate notification, no-op",
				"job_id", event.JobID,
				"event_type", event.EventType)
			return nil
		}

		now := h.timeNow().UTC()
		switch impliedStatus {
		case StatusCompleted:
			job.markCompleted(event.OutputRef, now)
		case StatusFailed:
			job.markFailed(failureMessage, now)
		case StatusCanceled:
			job.markCanceled(now)
			job.ProcessEndedAt = &now
		}

		if err := updateJobTx(tx, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return err
	}

	if updated == nil {
		return nil // Duplicate delivery
	}

	h.log.Infow("Applied completion event",
		"job_id", updated.ID,
		"event_type", event.EventType,
		"status", updated.Status)

	// Fire-and-forget owner notification; never blocks or fails the
	// state update above.
	if h.notifier != nil {
		go h.notifier.NotifyOwner(updated)
	}

	// A terminal transition freed a slot.
	if h.onSlotFree != nil {
		h.onSlotFree()
	}

	return nil
}
