package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/errors"
)

// recordingNotifier captures owner notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*Job
}

func (r *recordingNotifier) NotifyOwner(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func newTestHandler(t *testing.T, onSlotFree func()) (*CompletionHandler, *Store, *recordingNotifier) {
	t.Helper()
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	handler := NewCompletionHandler(store, notifier, onSlotFree, zap.NewNop().Sugar())
	return handler, store, notifier
}

func processingJob(t *testing.T, store *Store) *Job {
	t.Helper()
	now := time.Now().UTC()
	return mustCreateJob(t, store, func(j *Job) {
		j.markLaunched(now)
		j.markProcessing("batch-1", now)
	})
}

func TestCompletionHandler_JobCompleted(t *testing.T) {
	handler, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)

	err := handler.HandleNotification(ctx, Event{
		JobID:     job.ID,
		EventType: EventJobCompleted,
		OutputRef: "s3://transcripts/out.json",
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "s3://transcripts/out.json", got.OutputRef)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ProcessEndedAt)
}

func TestCompletionHandler_JobFailed(t *testing.T) {
	handler, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)

	err := handler.HandleNotification(ctx, Event{
		JobID:        job.ID,
		EventType:    EventJobFailed,
		ErrorMessage: "decoder crashed on segment 12",
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "decoder crashed on segment 12", got.ErrorMessage)
}

func TestCompletionHandler_DuplicateDeliveryIsNoOp(t *testing.T) {
	handler, store, notifier := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)
	event := Event{
		JobID:     job.ID,
		EventType: EventJobCompleted,
		OutputRef: "s3://transcripts/out.json",
	}

	require.NoError(t, handler.HandleNotification(ctx, event))

	before, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// Redelivery of the same event: success, no second write, no
	// second owner notification.
	require.NoError(t, handler.HandleNotification(ctx, event))

	after, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.ProcessEndedAt, after.ProcessEndedAt)

	// The first event's notification goroutine may still be in flight;
	// give it a moment, then confirm exactly one was sent.
	deadline := time.Now().Add(time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, notifier.count())
}

func TestCompletionHandler_DuplicateFailureComparesMessage(t *testing.T) {
	handler, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)

	require.NoError(t, handler.HandleNotification(ctx, Event{
		JobID:        job.ID,
		EventType:    EventJobFailed,
		ErrorMessage: "out of memory",
	}))

	// A failed event with a different message is a new fact, not a
	// duplicate, and overwrites the diagnostic.
	require.NoError(t, handler.HandleNotification(ctx, Event{
		JobID:        job.ID,
		EventType:    EventJobFailed,
		ErrorMessage: "decoder crashed on segment 12",
	}))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "decoder crashed on segment 12", got.ErrorMessage)
}

func TestCompletionHandler_DuplicateFailureWithEmptyMessage(t *testing.T) {
	handler, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)
	event := Event{JobID: job.ID, EventType: EventJobFailed}

	require.NoError(t, handler.HandleNotification(ctx, event))

	before, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, before.Status)
	assert.Equal(t, "job failed (no detail from executor)", before.ErrorMessage)

	// Redelivery with the same empty message must compare against the
	// stored fallback and leave the row untouched.
	require.NoError(t, handler.HandleNotification(ctx, event))

	after, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.ProcessEndedAt, after.ProcessEndedAt)
}

func TestCompletionHandler_UnknownEventTypeIgnored(t *testing.T) {
	handler, store, _ := newTestHandler(t, nil)
	ctx := context.Background()

	job := processingJob(t, store)

	err := handler.HandleNotification(ctx, Event{
		JobID:     job.ID,
		EventType: "job_paused",
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status, "unknown events must not alter the job")
}

func TestCompletionHandler_NewJobTriggersRefill(t *testing.T) {
	fired := make(chan struct{}, 1)
	handler, _, _ := newTestHandler(t, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	err := handler.HandleNotification(context.Background(), Event{
		JobID:     "job-someone-elses",
		EventType: EventNewJob,
	})
	require.NoError(t, err)

	select {
	case <-fired:
	default:
		t.Fatal("new_job event must trigger the refill callback")
	}
}

func TestCompletionHandler_TerminalEventTriggersRefill(t *testing.T) {
	fired := make(chan struct{}, 1)
	handler, store, _ := newTestHandler(t, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	job := processingJob(t, store)
	require.NoError(t, handler.HandleNotification(context.Background(), Event{
		JobID:     job.ID,
		EventType: EventJobCanceled,
	}))

	select {
	case <-fired:
	default:
		t.Fatal("terminal event must trigger the refill callback")
	}
}

func TestCompletionHandler_UnknownJob(t *testing.T) {
	handler, _, _ := newTestHandler(t, nil)

	err := handler.HandleNotification(context.Background(), Event{
		JobID:     "job-missing",
		EventType: EventJobCompleted,
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
