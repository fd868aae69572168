package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/config"
	"github.com/voxhall/scribeq/db"
	"github.com/voxhall/scribeq/sched"
)

// A listing must reap timed-out jobs even without the daemon running.
func TestJobsLsSweepsTimedOutJobs(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "scribeq.db")
	t.Setenv("DB_PATH", dbPath)
	config.Reset()
	t.Cleanup(config.Reset)

	database, err := db.OpenWithMigrations(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	store := sched.NewStore(database)
	ctx := context.Background()

	job, err := sched.NewJob("owner-1", "", "s3://audio/in.wav", 60000, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))

	// Put the job in flight with a start time far past any deadline the
	// default limits allow.
	old := time.Now().UTC().Add(-24 * time.Hour)
	job.Status = sched.StatusProcessing
	job.ExecutorHandle = "batch-1"
	job.ProcessStartedAt = &old
	require.NoError(t, store.UpdateJob(ctx, job))
	require.NoError(t, database.Close())

	require.NoError(t, runJobsLs("", "", 10))

	database, err = db.Open(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer database.Close()

	got, err := sched.NewStore(database).GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, sched.StatusFailed, got.Status)
	assert.Equal(t, "processing timed out", got.ErrorMessage)
}
