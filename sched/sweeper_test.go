package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSweeper(t *testing.T, limits LimitsFunc) (*Sweeper, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewSweeper(store, limits, 0, zap.NewNop().Sugar()), store
}

func TestSweeper_FailsJobPastDeadline(t *testing.T) {
	sweeper, store := newTestSweeper(t, testLimits(4))
	ctx := context.Background()

	// Estimate 60s at multiplier 2.0 gives 120s, below the 300s base,
	// so the budget is exactly the base timeout.
	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	job := mustCreateJob(t, store, func(j *Job) {
		j.markLaunched(start)
		j.markProcessing("batch-1", start)
	})

	// One second before the deadline: untouched.
	sweeper.timeNow = func() time.Time { return start.Add(300*time.Second - time.Second) }
	failed, err := sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	// One second past: force-failed with the timeout diagnostic.
	sweeper.timeNow = func() time.Time { return start.Add(300*time.Second + time.Second) }
	failed, err = sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "processing timed out", got.ErrorMessage)
	require.NotNil(t, got.ProcessEndedAt)
}

func TestSweeper_EstimateExtendsBudget(t *testing.T) {
	sweeper, store := newTestSweeper(t, testLimits(4))
	ctx := context.Background()

	// A one-hour estimate at multiplier 2.0 dominates the 300s base:
	// budget is 7200s.
	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	job := mustCreateJob(t, store, func(j *Job) {
		j.DurationEstimateMS = 3_600_000
		j.markLaunched(start)
		j.markProcessing("batch-1", start)
	})

	sweeper.timeNow = func() time.Time { return start.Add(2 * time.Hour) }
	failed, err := sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	sweeper.timeNow = func() time.Time { return start.Add(2*time.Hour + time.Second) }
	failed, err = sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestSweeper_SweepsLaunchedJobs(t *testing.T) {
	sweeper, store := newTestSweeper(t, testLimits(4))
	ctx := context.Background()

	// A job stuck in launched (submission never resolved) ages out the
	// same way a processing job does.
	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	job := mustCreateJob(t, store, func(j *Job) {
		j.markLaunched(start)
	})

	sweeper.timeNow = func() time.Time { return start.Add(301 * time.Second) }
	failed, err := sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestSweeper_LeavesTerminalAndQueuedJobsAlone(t *testing.T) {
	sweeper, store := newTestSweeper(t, testLimits(4))
	ctx := context.Background()

	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	queued := mustCreateJob(t, store, nil)
	completed := mustCreateJob(t, store, func(j *Job) {
		j.markLaunched(start)
		j.markCompleted("s3://out", start.Add(time.Minute))
	})

	sweeper.timeNow = func() time.Time { return start.Add(24 * time.Hour) }
	failed, err := sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	for _, tc := range []struct {
		id   string
		want Status
	}{
		{queued.ID, StatusQueued},
		{completed.ID, StatusCompleted},
	} {
		got, err := store.GetJob(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status)
	}
}

func TestSweeper_SweepsMultipleExpiredJobs(t *testing.T) {
	sweeper, store := newTestSweeper(t, testLimits(4))
	ctx := context.Background()

	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		mustCreateJob(t, store, func(j *Job) {
			j.markLaunched(start.Add(time.Duration(i) * time.Second))
			j.markProcessing("batch-1", start)
		})
	}

	sweeper.timeNow = func() time.Time { return start.Add(time.Hour) }
	failed, err := sweeper.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, failed)

	count, err := store.CountByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSweeper_StartStop(t *testing.T) {
	store := newTestStore(t)
	sweeper := NewSweeper(store, testLimits(4), 10*time.Millisecond, zap.NewNop().Sugar())

	sweeper.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()

	// Stop again should not panic.
	sweeper.Stop()
}
