package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsnav/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opsnav.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertHostAssignsSortOrderAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	h1 := &models.Host{Address: "10.0.0.1", Port: 443, Username: "root", Secret: "secretA"}
	require.NoError(t, s.UpsertHost(h1))
	assert.NotZero(t, h1.ID)
	assert.Equal(t, 0, h1.SortOrder)

	h2 := &models.Host{Address: "10.0.0.2", Port: 443, Username: "root", Secret: "secretB"}
	require.NoError(t, s.UpsertHost(h2))
	assert.Equal(t, 1, h2.SortOrder)

	// Re-enrolling the same address must not create a duplicate row.
	dup := &models.Host{Address: "10.0.0.1", Port: 443, Username: "root", Secret: "secretA-rotated"}
	require.NoError(t, s.UpsertHost(dup))
	assert.Equal(t, h1.ID, dup.ID)

	all, err := s.ListHosts()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReorderHostsAppendsUnnamedAfter(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		h := &models.Host{Address: "host-" + string(rune('a'+i)), Username: "root", Secret: "xxxxxxxxxxxx"}
		require.NoError(t, s.UpsertHost(h))
		ids = append(ids, h.ID)
	}

	require.NoError(t, s.ReorderHosts([]int64{ids[2], ids[0]}))

	ordered, err := s.ListHosts()
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, ids[2], ordered[0].ID)
	assert.Equal(t, ids[0], ordered[1].ID)
	assert.Equal(t, ids[1], ordered[2].ID)
}

func TestDeleteHostCascadesVMs(t *testing.T) {
	s := openTestStore(t)

	h := &models.Host{Address: "10.0.0.5", Username: "root", Secret: "xxxxxxxxxxxx"}
	require.NoError(t, s.UpsertHost(h))

	vm := &models.VirtualMachine{ID: "10.0.0.5-uuid1", UUID: "uuid1", Name: "vm1", HostAddress: h.Address, PowerState: models.PowerOn}
	require.NoError(t, s.UpsertVM(vm))

	require.NoError(t, s.DeleteHost(h.ID))

	_, err := s.GetVM(vm.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteVMsForHostEmptyKeepDeletesAll(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		vm := &models.VirtualMachine{ID: "h-" + string(rune('a'+i)), UUID: "u", Name: "vm", HostAddress: "h", PowerState: models.PowerOn}
		require.NoError(t, s.UpsertVM(vm))
	}

	require.NoError(t, s.DeleteVMsForHost("h", nil))

	vms, err := s.ListVMsByHost("h")
	require.NoError(t, err)
	assert.Empty(t, vms)
}

func TestDeleteVMsForHostKeepsNamed(t *testing.T) {
	s := openTestStore(t)

	ids := []string{"h-a", "h-b", "h-c"}
	for _, id := range ids {
		vm := &models.VirtualMachine{ID: id, UUID: "u", Name: "vm", HostAddress: "h", PowerState: models.PowerOn}
		require.NoError(t, s.UpsertVM(vm))
	}

	require.NoError(t, s.DeleteVMsForHost("h", []string{"h-b"}))

	vms, err := s.ListVMsByHost("h")
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "h-b", vms[0].ID)
}

func TestListVMsFilterByKeywordAndPagination(t *testing.T) {
	s := openTestStore(t)

	names := []string{"web-01", "web-02", "db-01"}
	for i, n := range names {
		vm := &models.VirtualMachine{ID: "id-" + n, UUID: "u", Name: n, HostAddress: "h1", PowerState: models.PowerOn}
		_ = i
		require.NoError(t, s.UpsertVM(vm))
	}

	results, total, err := s.ListVMs(VMFilter{Keyword: "web", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)
}

func TestTaskCreateUpdateLifecycle(t *testing.T) {
	s := openTestStore(t)

	task := &models.Task{ID: "task-1", Kind: models.TaskCloneVM, TargetID: "10.0.0.1-uuid"}
	require.NoError(t, s.CreateTask(task))

	fetched, err := s.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, fetched.Status)
	assert.Equal(t, 0, fetched.Progress)

	running := models.TaskRunning
	progress := 50
	msg := "copying disks"
	require.NoError(t, s.UpdateTask("task-1", TaskPatch{Status: &running, Progress: &progress, Message: &msg}))

	fetched, err = s.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, fetched.Status)
	assert.Equal(t, 50, fetched.Progress)
	assert.Equal(t, "copying disks", fetched.Message)

	success := models.TaskSuccess
	result := map[string]interface{}{"new_vm_id": "10.0.0.2-uuid2"}
	require.NoError(t, s.UpdateTask("task-1", TaskPatch{Status: &success, Result: result}))

	fetched, err = s.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, fetched.Status)
	assert.Equal(t, "10.0.0.2-uuid2", fetched.Result["new_vm_id"])
}

func TestListTasksOrderedByCreatedAtDesc(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CreateTask(&models.Task{ID: "t1", Kind: models.TaskSyncHost}))
	require.NoError(t, s.CreateTask(&models.Task{ID: "t2", Kind: models.TaskSyncHost}))

	tasks, err := s.ListTasks(TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.Equal(t, "t1", tasks[1].ID)
}

func TestCredentialCRUD(t *testing.T) {
	s := openTestStore(t)

	c := &models.Credential{Alias: "default", Username: "root", Secret: "hunter2"}
	require.NoError(t, s.CreateCredential(c))
	assert.NotZero(t, c.ID)

	fetched, err := s.GetCredential(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "default", fetched.Alias)

	require.NoError(t, s.DeleteCredential(c.ID))
	_, err = s.GetCredential(c.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDatastoreStatsSumsAcrossRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDatastore(&models.Datastore{ID: "ds1", Name: "datastore1", CapacityGB: 500, FreeGB: 200}))
	require.NoError(t, s.UpsertDatastore(&models.Datastore{ID: "ds2", Name: "datastore2", CapacityGB: 1000, FreeGB: 300}))

	stats, err := s.DatastoreStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1500.0, stats.TotalCapacityGB)
	assert.Equal(t, 500.0, stats.TotalFreeGB)
}
