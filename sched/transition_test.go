package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/errors"
)

func newTestValidator(t *testing.T) (*Validator, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewValidator(store, zap.NewNop().Sugar()), store
}

func TestValidator_CancelQueuedJob(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, nil)

	status, err := validator.ApplyUserTransition(ctx, job.ID, StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, status)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
}

func TestValidator_CancelRejectedOnceInFlight(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, tc := range []struct {
		name   string
		mutate func(*Job)
	}{
		{"launched", func(j *Job) { j.markLaunched(now) }},
		{"processing", func(j *Job) {
			j.markLaunched(now)
			j.markProcessing("batch-1", now)
		}},
		{"completed", func(j *Job) {
			j.markLaunched(now)
			j.markCompleted("s3://out", now)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			job := mustCreateJob(t, store, tc.mutate)

			_, err := validator.ApplyUserTransition(ctx, job.ID, StatusCanceled)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidTransition(err))

			// The job must be untouched by the rejected request.
			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.NotEqual(t, StatusCanceled, got.Status)
		})
	}
}

func TestValidator_RetryFromTerminalStates(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, tc := range []struct {
		name   string
		mutate func(*Job)
	}{
		{"failed", func(j *Job) {
			j.markLaunched(now)
			j.markFailed("processing timed out", now)
		}},
		{"completed", func(j *Job) {
			j.markLaunched(now)
			j.markCompleted("s3://out", now)
		}},
		{"canceled", func(j *Job) { j.markCanceled(now) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			job := mustCreateJob(t, store, tc.mutate)

			status, err := validator.ApplyUserTransition(ctx, job.ID, StatusQueued)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, status)

			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, got.Status)
			assert.Empty(t, got.ErrorMessage, "retry must clear the previous error")
			assert.Empty(t, got.OutputRef)
			assert.Empty(t, got.ExecutorHandle)
			assert.Nil(t, got.ProcessStartedAt, "retry must clear the previous attempt's timing")
			assert.Nil(t, got.ProcessEndedAt)
			assert.Equal(t, 1, got.RetryCount)
		})
	}
}

func TestValidator_RetryRejectedWhileQueued(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, nil)

	// A queued job was never attempted; there is nothing to retry.
	_, err := validator.ApplyUserTransition(ctx, job.ID, StatusQueued)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidTransition(err))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestValidator_RetryRejectedWhileInFlight(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, func(j *Job) {
		j.markLaunched(time.Now().UTC())
	})

	_, err := validator.ApplyUserTransition(ctx, job.ID, StatusQueued)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidTransition(err))
}

func TestValidator_DirectStatusRequestsRejected(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, nil)

	for _, requested := range []Status{StatusLaunched, StatusProcessing, StatusCompleted, StatusFailed} {
		_, err := validator.ApplyUserTransition(ctx, job.ID, requested)
		require.Error(t, err, "requesting %s directly must be rejected", requested)
		assert.True(t, errors.IsInvalidTransition(err))
	}
}

func TestValidator_RepeatedRequestIsNoOp(t *testing.T) {
	validator, store := newTestValidator(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, nil)

	status, err := validator.ApplyUserTransition(ctx, job.ID, StatusCanceled)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, status)

	before, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// Same request again: succeeds without touching the row.
	status, err = validator.ApplyUserTransition(ctx, job.ID, StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, status)

	after, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestValidator_UnknownJob(t *testing.T) {
	validator, _ := newTestValidator(t)

	_, err := validator.ApplyUserTransition(context.Background(), "job-missing", StatusCanceled)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
