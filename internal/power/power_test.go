package power

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsnav/internal/apperr"
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

func TestOneOf(t *testing.T) {
	require.True(t, oneOf("poweron", "poweron", "on", "start"))
	require.True(t, oneOf("start", "poweron", "on", "start"))
	require.False(t, oneOf("nuke", "poweron", "on", "start"))
}

func TestApplyUnknownHostReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	c := New(s, nil, logger.New("error"), true)

	vm := &models.VirtualMachine{ID: "ghost-1", HostAddress: "192.0.2.1", Name: "ghost"}
	_, err := c.Apply(context.Background(), vm, "poweron")
	require.Error(t, err)
	require.Equal(t, apperr.NotFoundKind, apperr.KindOf(err))
}

func TestApplyUnreachableHostReturnsConnectError(t *testing.T) {
	s := openTestStore(t)
	host := &models.Host{Address: "192.0.2.1", Port: 443, Username: "root", Secret: "x"}
	require.NoError(t, s.UpsertHost(host))

	c := New(s, nil, logger.New("error"), true)
	vm := &models.VirtualMachine{ID: "192.0.2.1-abc", UUID: "abc", HostAddress: "192.0.2.1", Name: "vm-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Apply(ctx, vm, "poweron")
	require.Error(t, err)
}
