package httpapi

import (
	"net/http"
	"strconv"

	"opsnav/internal/apperr"
	"opsnav/internal/clone"
	"opsnav/internal/models"
	"opsnav/internal/sshbootstrap"
	"opsnav/internal/store"
)

func vmFilterForHost(hostAddress string) store.VMFilter {
	return store.VMFilter{HostAddress: hostAddress, PageSize: 1 << 30}
}

type vmResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	PowerState        string  `json:"power_state"`
	GuestOS           string  `json:"guest_os,omitempty"`
	IPAddress         string  `json:"ip_address,omitempty"`
	Description       string  `json:"description,omitempty"`
	UUID              string  `json:"instance_uuid"`
	HostAddress       string  `json:"host_ip"`
	CPUCount          int32   `json:"cpu_count"`
	MemoryMB          int64   `json:"memory_mb"`
	CPUUsageMHz       int32   `json:"cpu_usage_mhz"`
	MemoryUsageMB     int32   `json:"memory_usage_mb"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskProvisionedGB float64 `json:"disk_provisioned_gb"`
	ToolsStatus       string  `json:"tools_status,omitempty"`
}

func vmToResponse(vm *models.VirtualMachine) vmResponse {
	return vmResponse{
		ID: vm.ID, Name: vm.Name, PowerState: string(vm.PowerState), GuestOS: vm.GuestOS,
		IPAddress: vm.IPAddress, Description: vm.Annotation, UUID: vm.UUID, HostAddress: vm.HostAddress,
		CPUCount: vm.CPUCount, MemoryMB: vm.MemoryMB, CPUUsageMHz: vm.CPUUsageMHz,
		MemoryUsageMB: vm.MemoryUsageMB, UptimeSeconds: vm.UptimeSeconds, DiskUsedGB: vm.DiskUsedGB,
		DiskProvisionedGB: vm.DiskProvisionedGB, ToolsStatus: vm.ToolsStatus,
	}
}

// handleListVMs serves the paginated inventory. When refresh=true and
// host_id is given it forces a reconcile of that host before reading
// from the store.
func (s *Server) handleListVMs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var hostAddress string
	if hostIDStr := q.Get("host_id"); hostIDStr != "" {
		hostID, err := strconv.ParseInt(hostIDStr, 10, 64)
		if err == nil {
			if host, err := s.store.GetHost(hostID); err == nil {
				hostAddress = host.Address
				if q.Get("refresh") == "true" && s.reconciler != nil {
					if _, err := s.reconciler.Reconcile(r.Context(), host); err != nil {
						s.log.Warn("forced refresh failed", "host", host.Address, "error", err)
					}
				}
			}
		}
	}

	filter := store.VMFilter{
		HostAddress: hostAddress,
		Keyword:     q.Get("keyword"),
		Status:      q.Get("status"),
		Page:        atoiDefault(q.Get("page"), 1),
		PageSize:    atoiDefault(q.Get("page_size"), 20),
	}

	vms, total, err := s.store.ListVMs(filter)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	items := make([]vmResponse, 0, len(vms))
	for _, vm := range vms {
		items = append(items, vmToResponse(vm))
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"total": total, "items": items})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

type vmUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// handleUpdateVM renames and/or re-annotates a VM, applying the change
// on the hypervisor first and only caching it locally once that
// succeeds.
func (s *Server) handleUpdateVM(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req vmUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if req.Name == nil && req.Description == nil {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "no fields to update"))
		return
	}

	vm, err := s.store.GetVM(id)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "vm not found", err))
		return
	}
	host, err := s.store.GetHostByAddress(vm.HostAddress)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
		return
	}

	name := vm.Name
	if req.Name != nil {
		name = *req.Name
	}
	annotation := vm.Annotation
	if req.Description != nil {
		annotation = *req.Description
	}

	if err := s.applyVMRename(r, host, vm, name, annotation); err != nil {
		s.errorResponse(w, err)
		return
	}

	vm, err = s.store.GetVM(id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, vmToResponse(vm))
}

type powerRequest struct {
	Action string `json:"action"`
}

type asyncTaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handlePowerVM dispatches a synchronous power action — unlike clone and
// install-tools, power actions complete within the request and report a
// synthetic task ID rather than a pollable one.
func (s *Server) handlePowerVM(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req powerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}

	vm, err := s.store.GetVM(id)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "vm not found", err))
		return
	}

	result, err := s.power.Apply(r.Context(), vm, req.Action)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, asyncTaskResponse{TaskID: result.TaskID, Status: result.Status, Message: result.Message})
}

type cloneRequest struct {
	NewName            string   `json:"new_name"`
	TargetDatastore    string   `json:"target_datastore"`
	PowerOn            bool     `json:"power_on"`
	AutoConfigIP       bool     `json:"auto_config_ip"`
	GuestUsername      string   `json:"guest_username"`
	GuestPassword      string   `json:"guest_password"`
	NewIP              string   `json:"new_ip"`
	Netmask            string   `json:"netmask"`
	Gateway            string   `json:"gateway"`
	DNS                []string `json:"dns"`
	NICName            string   `json:"nic_name"`
	DisconnectNICFirst bool     `json:"disconnect_nic_first"`
}

// handleCloneVM creates a task row and returns immediately; the clone
// itself runs in Orchestrator's own background goroutine.
func (s *Server) handleCloneVM(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req cloneRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}

	vm, err := s.store.GetVM(id)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "vm not found", err))
		return
	}
	host, err := s.store.GetHostByAddress(vm.HostAddress)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "host not found", err))
		return
	}

	task, err := s.clone.Start(clone.Request{
		Host: host, Source: vm,
		NewName: req.NewName, TargetDatastore: req.TargetDatastore, PowerOn: req.PowerOn,
		AutoConfigIP: req.AutoConfigIP, GuestUsername: req.GuestUsername, GuestPassword: req.GuestPassword,
		NewIP: req.NewIP, Netmask: req.Netmask, Gateway: req.Gateway, DNS: req.DNS,
		NICName: req.NICName, DisconnectNICFirst: req.DisconnectNICFirst,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, asyncTaskResponse{
		TaskID: task.ID, Status: string(task.Status), Message: "clone task submitted",
	})
}

// handleConsole returns a mock WebMKS console ticket; no real console
// proxy is wired up yet.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"type":   "webmks",
		"url":    "wss://mock-proxy/ticket/123",
		"ticket": "mock-ticket",
	})
}

type installToolsRequest struct {
	IP           string `json:"ip"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CredentialID int64  `json:"credential_id"`
}

// handleInstallTools creates a task row, then installs open-vm-tools
// over SSH in the background. Credentials come directly in the body or,
// if credential_id is set, from a stored preset.
func (s *Server) handleInstallTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req installToolsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}

	vm, err := s.store.GetVM(id)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "vm not found", err))
		return
	}

	username, password := req.Username, req.Password
	if req.CredentialID != 0 {
		cred, err := s.store.GetCredential(req.CredentialID)
		if err != nil {
			s.errorResponse(w, apperr.Wrap(apperr.ValidationKind, "credential not found", err))
			return
		}
		username, password = cred.Username, cred.Secret
	}
	if username == "" || password == "" {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "username and password required (directly or via credential_id)"))
		return
	}

	address := req.IP
	if address == "" {
		address = vm.IPAddress
	}

	task, err := s.tasks.Create(models.TaskInstallTools, vm.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	go func() {
		_ = s.tasks.MarkRunning(task.ID, 10, "connecting via ssh: "+address)
		if _, err := sshbootstrap.Install(address, username, password); err != nil {
			_ = s.tasks.MarkFailed(task.ID, err.Error())
			return
		}
		_ = s.tasks.MarkSuccess(task.ID, "tools installation command executed, resync to confirm", nil)
	}()

	s.jsonResponse(w, http.StatusOK, asyncTaskResponse{
		TaskID: task.ID, Status: string(task.Status), Message: "background install task started",
	})
}
