package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"opsnav/internal/apperr"
	"opsnav/internal/models"
	"opsnav/internal/reconciler"
)

const fleetSyncTimeout = 10 * time.Minute

type hostRequest struct {
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description"`
	ProbeOnly   bool   `json:"probe_only"`
}

type hostResponse struct {
	ID          int64  `json:"id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Hostname    string `json:"hostname,omitempty"`
	Version     string `json:"version,omitempty"`
	VMCount     int    `json:"vm_count"`
	VMsRunning  int    `json:"vms_running"`
}

// fallbackPassword mirrors the original's "data.password or
// os.getenv('ESXI_PASSWORD')": an omitted password in the enrollment
// request falls back first to the seeded default host secret, then to
// a configured default password.
func (s *Server) fallbackPassword(ctx context.Context) string {
	if s.secrets != nil {
		if secret, err := s.secrets.Get(ctx, "host:default"); err == nil && secret != nil {
			if pwd := secret.Value["password"]; pwd != "" {
				return pwd
			}
		}
	}
	return s.defaultCreds.Password
}

func hostToResponse(h *models.Host) hostResponse {
	return hostResponse{
		ID: h.ID, IP: h.Address, Port: h.Port, Username: h.Username,
		Description: h.Description, Status: string(h.Status),
		Hostname: h.Hostname, Version: h.Version,
		VMCount: h.VMCount, VMsRunning: h.VMsRunning,
	}
}

// handleCreateHost enrolls a host: probes reachability first, then
// (unless probe_only) upserts it by address and kicks off an initial
// best-effort inventory sync.
func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if req.IP == "" {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "ip is required"))
		return
	}
	if req.Port == 0 {
		req.Port = 443
	}
	if req.Username == "" {
		req.Username = "root"
		if s.defaultCreds.Username != "" {
			req.Username = s.defaultCreds.Username
		}
	}
	if req.Password == "" {
		req.Password = s.fallbackPassword(r.Context())
		if req.Password == "" {
			s.errorResponse(w, apperr.New(apperr.ValidationKind, "password is required"))
			return
		}
	}

	about, err := reconciler.Probe(r.Context(), req.IP, req.Port, req.Username, req.Password, s.insecure, s.log)
	if err != nil {
		s.probeErrorResponse(w, err)
		return
	}

	if req.ProbeOnly {
		s.jsonResponse(w, http.StatusCreated, hostResponse{
			IP: req.IP, Port: req.Port, Username: req.Username, Description: req.Description,
			Status: "online", Hostname: about.Hostname, Version: about.Version,
		})
		return
	}

	host := &models.Host{
		Address: req.IP, Port: req.Port, Username: req.Username, Secret: req.Password,
		Description: req.Description, Hostname: about.Hostname, Version: about.Version,
		Status: models.HostOnline,
	}
	if err := s.store.UpsertHost(host); err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.HypervisorKind, "persist host", err))
		return
	}

	if s.reconciler != nil {
		if _, err := s.reconciler.Reconcile(r.Context(), host); err != nil {
			s.log.Warn("initial sync on enrollment failed", "host", host.Address, "error", err)
		}
	}

	s.jsonResponse(w, http.StatusCreated, hostToResponse(host))
}

// handleListHosts returns every enrolled host with vm_count/vms_running
// aggregated from the cached VM inventory.
func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts()
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	counts := make(map[string]int, len(hosts))
	running := make(map[string]int, len(hosts))
	for _, h := range hosts {
		vms, _, err := s.store.ListVMs(vmFilterForHost(h.Address))
		if err != nil {
			continue
		}
		counts[h.Address] = len(vms)
		for _, vm := range vms {
			if vm.PowerState == models.PowerOn {
				running[h.Address]++
			}
		}
	}

	out := make([]hostResponse, 0, len(hosts))
	for _, h := range hosts {
		h.VMCount = counts[h.Address]
		h.VMsRunning = running[h.Address]
		out = append(out, hostToResponse(h))
	}
	s.jsonResponse(w, http.StatusOK, out)
}

type reorderRequest struct {
	HostIDs []int64 `json:"host_ids"`
}

// handleReorderHosts pins the requested IDs to the given order and
// appends every other known host after them in its prior relative
// order.
func (s *Server) handleReorderHosts(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if len(req.HostIDs) == 0 {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "host_ids must not be empty"))
		return
	}
	seen := make(map[int64]bool, len(req.HostIDs))
	for _, id := range req.HostIDs {
		if seen[id] {
			s.errorResponse(w, apperr.New(apperr.ValidationKind, "host_ids contains a duplicate"))
			return
		}
		seen[id] = true
	}
	for _, id := range req.HostIDs {
		if _, err := s.store.GetHost(id); err != nil {
			s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
			return
		}
	}

	if err := s.store.ReorderHosts(req.HostIDs); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUpdateHost applies a partial update (address/port/username/
// password/description); zero-valued fields in the body leave the
// stored value untouched, except description which is always applied
// when present in the body.
func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "invalid host id"))
		return
	}

	var req struct {
		IP          string  `json:"ip"`
		Port        int     `json:"port"`
		Username    string  `json:"username"`
		Password    string  `json:"password"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}

	if _, err := s.store.GetHost(id); err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
		return
	}

	var address, username, secret, description *string
	var port *int
	if req.IP != "" {
		address = &req.IP
	}
	if req.Username != "" {
		username = &req.Username
	}
	if req.Password != "" {
		secret = &req.Password
	}
	description = req.Description
	if req.Port != 0 {
		port = &req.Port
	}

	if err := s.store.UpdateHostFields(id, address, username, secret, description, port); err != nil {
		s.errorResponse(w, err)
		return
	}

	host, err := s.store.GetHost(id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, hostToResponse(host))
}

// handleDeleteHost removes a host and cascades to every cached VM it
// owns.
func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "invalid host id"))
		return
	}
	if err := s.store.DeleteHost(id); err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync triggers an inventory reconcile. With a host_id body field
// it targets that single host; otherwise it walks the full fleet.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HostID int64 `json:"host_id"`
	}
	_ = decodeJSON(r, &body) // an empty/absent body means "sync everything"

	if body.HostID != 0 {
		host, err := s.store.GetHost(body.HostID)
		if err != nil {
			s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), fleetSyncTimeout)
			defer cancel()
			if _, err := s.reconciler.Reconcile(ctx, host); err != nil {
				s.log.Warn("targeted sync failed", "host", host.Address, "error", err)
			}
		}()
		s.jsonResponse(w, http.StatusOK, map[string]interface{}{
			"success": true, "message": "sync started for " + host.Address,
		})
		return
	}

	hosts, err := s.store.ListHosts()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fleetSyncTimeout)
		defer cancel()
		for _, h := range hosts {
			if _, err := s.reconciler.Reconcile(ctx, h); err != nil {
				s.log.Warn("fleet sync failed for host", "host", h.Address, "error", err)
			}
		}
	}()
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success": true, "message": "sync started for all hosts",
	})
}

func (s *Server) handleDatastoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DatastoreStats()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}
