package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsnav/internal/clone"
	"opsnav/internal/logger"
	"opsnav/internal/models"
	"opsnav/internal/power"
	"opsnav/internal/reconciler"
	"opsnav/internal/secrets"
	"opsnav/internal/store"
	"opsnav/internal/tasks"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func vmFixture() models.VirtualMachine {
	return models.VirtualMachine{
		ID: "host1-uuid1", UUID: "uuid1", Name: "vm-1", HostAddress: "host1",
		PowerState: models.PowerOff,
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "opsnav.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logger.New("error")
	rec := reconciler.New(s, log, true)
	tr := tasks.New(s)
	pc := power.New(s, rec, log, true)
	co := clone.New(s, tr, rec, log, true)

	srv := New(s, rec, tr, pc, co, secrets.NewMemoryStore(), "", "", log, true, nil, "127.0.0.1:0")
	return srv, s
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListHostsReturnsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/virtualization/hosts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hosts []hostResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hosts))
	require.Empty(t, hosts)
}

func TestCreateHostRejectsMissingIP(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/hosts", hostRequest{Password: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateHostRejectsMissingPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/hosts", hostRequest{IP: "192.0.2.1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateHostReportsBadGatewayWhenUnreachable(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(hostRequest{IP: "192.0.2.1", Password: "x"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/virtualization/hosts", &buf).WithContext(ctx)

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReorderHostsRejectsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/hosts/reorder", reorderRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReorderHostsRejectsDuplicates(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/hosts/reorder", reorderRequest{HostIDs: []int64{1, 1}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReorderHostsRejectsUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/hosts/reorder", reorderRequest{HostIDs: []int64{999}})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateVMRejectsEmptyPatch(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPatch, "/virtualization/vms/vm-1", vmUpdateRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateVMReturnsNotFoundForUnknownVM(t *testing.T) {
	srv, _ := newTestServer(t)
	name := "renamed"
	rec := doRequest(t, srv, http.MethodPatch, "/virtualization/vms/vm-missing", vmUpdateRequest{Name: &name})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPowerVMReturnsNotFoundForUnknownVM(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/vms/vm-missing/power", powerRequest{Action: "poweron"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloneVMReturnsNotFoundForUnknownVM(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/virtualization/vms/vm-missing/clone", cloneRequest{NewName: "clone-1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstallToolsRequiresCredentials(t *testing.T) {
	srv, s := newTestServer(t)
	vm := vmFixture()
	require.NoError(t, s.UpsertVM(&vm))

	rec := doRequest(t, srv, http.MethodPost, "/virtualization/vms/host1-uuid1/install-tools", installToolsRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsoleReturnsMockTicket(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/virtualization/vms/vm-1/console", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "webmks", body["type"])
}

func TestDatastoreStatsZeroWhenEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/virtualization/datastores/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListTasksEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/tasks/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialsCreateListDelete(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/credentials", credentialRequest{Name: "svc", Username: "root", Password: "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	rec = doRequest(t, srv, http.MethodGet, "/credentials", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = doRequest(t, srv, http.MethodDelete, "/credentials/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateCredentialRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/credentials", credentialRequest{Name: "svc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
