package tasks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsnav/internal/models"
	"opsnav/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "opsnav.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAssignsPendingStatus(t *testing.T) {
	tr := New(openTestStore(t))

	task, err := tr.Create(models.TaskCloneVM, "host-1-abc")
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.TaskPending, task.Status)
	require.Equal(t, 0, task.Progress)
}

func TestLifecycleTransitionsThroughRunningToSuccess(t *testing.T) {
	tr := New(openTestStore(t))
	task, err := tr.Create(models.TaskCloneVM, "host-1-abc")
	require.NoError(t, err)

	require.NoError(t, tr.MarkRunning(task.ID, 5, "connecting"))
	got, err := tr.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskRunning, got.Status)
	require.Equal(t, 5, got.Progress)
	require.Equal(t, "connecting", got.Message)

	require.NoError(t, tr.MarkProgress(task.ID, 65, "registering vm"))
	got, err = tr.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskRunning, got.Status)
	require.Equal(t, 65, got.Progress)

	require.NoError(t, tr.MarkSuccess(task.ID, "clone complete", map[string]interface{}{"vm_id": "host-1-xyz"}))
	got, err = tr.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskSuccess, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, "host-1-xyz", got.Result["vm_id"])
}

func TestMarkFailedPreservesProgress(t *testing.T) {
	tr := New(openTestStore(t))
	task, err := tr.Create(models.TaskCloneVM, "host-1-abc")
	require.NoError(t, err)
	require.NoError(t, tr.MarkProgress(task.ID, 40, "copying disks"))

	require.NoError(t, tr.MarkFailed(task.ID, "disk copy failed: no space left"))
	got, err := tr.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskFailed, got.Status)
	require.Equal(t, 40, got.Progress)
	require.Equal(t, "disk copy failed: no space left", got.Message)
}

func TestListOrderedNewestFirstAndFilteredByKind(t *testing.T) {
	tr := New(openTestStore(t))
	_, err := tr.Create(models.TaskSyncHost, "host-1")
	require.NoError(t, err)
	clone, err := tr.Create(models.TaskCloneVM, "host-1-abc")
	require.NoError(t, err)

	all, err := tr.List(store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, clone.ID, all[0].ID)

	list, err := tr.List(store.TaskFilter{Kind: models.TaskCloneVM})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, clone.ID, list[0].ID)
}

func TestIsStaleOnlyFlagsAgedRunningTasks(t *testing.T) {
	fresh := &models.Task{Status: models.TaskRunning, UpdatedAt: time.Now().UTC()}
	require.False(t, IsStale(fresh))

	stale := &models.Task{Status: models.TaskRunning, UpdatedAt: time.Now().UTC().Add(-time.Hour)}
	require.True(t, IsStale(stale))

	doneButOld := &models.Task{Status: models.TaskSuccess, UpdatedAt: time.Now().UTC().Add(-time.Hour)}
	require.False(t, IsStale(doneButOld))
}
