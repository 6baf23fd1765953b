package clone

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsnav/internal/logger"
	"opsnav/internal/models"
	"opsnav/internal/store"
	"opsnav/internal/tasks"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "opsnav.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRequestNICNameDefaultsToEth0(t *testing.T) {
	r := &Request{}
	require.Equal(t, "eth0", r.nicName())

	r2 := &Request{NICName: "eth1"}
	require.Equal(t, "eth1", r2.nicName())
}

func TestStartRejectsMissingSourceOrHost(t *testing.T) {
	s := openTestStore(t)
	o := New(s, tasks.New(s), nil, logger.New("error"), true)

	_, err := o.Start(Request{NewName: "clone-1"})
	require.Error(t, err)
}

func TestStartRejectsMissingNewName(t *testing.T) {
	s := openTestStore(t)
	o := New(s, tasks.New(s), nil, logger.New("error"), true)

	_, err := o.Start(Request{
		Host:   &models.Host{Address: "192.0.2.1"},
		Source: &models.VirtualMachine{ID: "vm-1"},
	})
	require.Error(t, err)
}

func TestStartRejectsIncompleteAutoConfigIP(t *testing.T) {
	s := openTestStore(t)
	o := New(s, tasks.New(s), nil, logger.New("error"), true)

	_, err := o.Start(Request{
		Host:         &models.Host{Address: "192.0.2.1"},
		Source:       &models.VirtualMachine{ID: "vm-1"},
		NewName:      "clone-1",
		AutoConfigIP: true,
	})
	require.Error(t, err)
}

func TestStartCreatesTaskAndRunsInBackground(t *testing.T) {
	s := openTestStore(t)
	o := New(s, tasks.New(s), nil, logger.New("error"), true)

	task, err := o.Start(Request{
		Host:    &models.Host{Address: "192.0.2.1", Port: 443, Username: "root", Secret: "x"},
		Source:  &models.VirtualMachine{ID: "vm-1", Name: "vm-1", HostAddress: "192.0.2.1"},
		NewName: "vm-1-clone",
	})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.TaskPending, task.Status)

	require.Eventually(t, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.Status == models.TaskFailed
	}, 15*time.Second, 200*time.Millisecond)
}
