package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsnav/internal/logger"
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

func TestReconcileUnreachableHostMarksOffline(t *testing.T) {
	s := openTestStore(t)
	log := logger.New("error")
	r := New(s, log, true)

	host := &models.Host{Address: "192.0.2.1", Port: 443, Username: "root", Secret: "unreachable-secret"}
	require.NoError(t, s.UpsertHost(host))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Reconcile(ctx, host)
	require.Error(t, err)

	updated, err := s.GetHostByAddress(host.Address)
	require.NoError(t, err)
	require.Equal(t, models.HostOffline, updated.Status)
}
