package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contact-harvester/internal/jobs"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := jobs.Job{ID: "job-1", Kind: "website", Status: jobs.StatusQueued, CreatedAt: time.Unix(100, 0)}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	job.Status = jobs.StatusRunning
	require.NoError(t, store.UpdateJob(ctx, job))

	code := 0
	job.Status, job.ExitCode = jobs.StatusSucceeded, &code
	require.NoError(t, store.UpdateJob(ctx, job))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusSucceeded, final.Status)
	require.Equal(t, 0, *final.ExitCode)

	job.Status = jobs.StatusRunning
	require.ErrorContains(t, store.UpdateJob(ctx, job), "already finished")
}

func TestJobStoreMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.ErrorIs(t, store.UpdateJob(context.Background(), jobs.Job{ID: "nope"}), jobs.ErrNotFound)
}

func TestJobStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, jobs.Job{ID: "a", CreatedAt: time.Unix(100, 0)}))
	require.NoError(t, store.CreateJob(ctx, jobs.Job{ID: "b", CreatedAt: time.Unix(200, 0)}))

	list, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", list[0].ID)
	require.Equal(t, "a", list[1].ID)
}
