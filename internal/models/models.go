// Package models defines the domain entities persisted by internal/store:
// Host, VirtualMachine, Datastore, Credential, and Task.
package models

import "time"

// HostStatus is the observed reachability of an enrolled hypervisor.
type HostStatus string

const (
	HostOnline    HostStatus = "online"
	HostOffline   HostStatus = "offline"
	HostAuthError HostStatus = "auth_error"
)

// Host is an enrolled ESXi hypervisor. Natural key is Address; SortOrder
// gives the display ordering (smaller first, ties broken by ID).
type Host struct {
	ID             int64      `json:"id"`
	Address        string     `json:"ip"`
	Port           int        `json:"port"`
	Username       string     `json:"username"`
	Secret         string     `json:"-"`
	Description    string     `json:"description,omitempty"`
	SortOrder      int        `json:"sort_order"`
	Hostname       string     `json:"hostname,omitempty"`
	Version        string     `json:"version,omitempty"`
	Model          string     `json:"model,omitempty"`
	LastSync       *time.Time `json:"last_sync_at,omitempty"`
	Status         HostStatus `json:"status"`
	CPUUsagePct    float64    `json:"cpu_usage"`
	MemoryUsagePct float64    `json:"memory_usage"`
	CPUCores       int        `json:"cpu_cores"`
	MemoryTotalGB  float64    `json:"memory_total_gb"`
	StorageTotalGB float64    `json:"storage_total_gb"`
	StorageFreeGB  float64    `json:"storage_free_gb"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Augmented only in list responses, never persisted.
	VMCount     int `json:"vm_count,omitempty"`
	VMsRunning  int `json:"vms_running,omitempty"`
}

// PowerState is the fixed mapping target for every hypervisor power-state
// enum value; unrecognized values map to PowerUnknown.
type PowerState string

const (
	PowerOn      PowerState = "poweredOn"
	PowerOff     PowerState = "poweredOff"
	PowerSuspend PowerState = "suspended"
	PowerUnknown PowerState = "unknown"
)

// VirtualMachine is owned by exactly one Host (HostAddress) and identified
// by the composite "<host-address>-<vm-uuid>" id.
type VirtualMachine struct {
	ID                string     `json:"id"`
	UUID              string     `json:"uuid"`
	Name              string     `json:"name"`
	HostAddress       string     `json:"host_ip"`
	PowerState        PowerState `json:"status"`
	IPAddress         string     `json:"ip_address,omitempty"`
	GuestOS           string     `json:"os_name,omitempty"`
	Annotation        string     `json:"description,omitempty"`
	CPUCount          int32      `json:"cpu_count"`
	MemoryMB          int64      `json:"memory_mb"`
	CPUUsageMHz       int32      `json:"cpu_usage_mhz"`
	MemoryUsageMB     int32      `json:"memory_usage_mb"`
	UptimeSeconds     int64      `json:"uptime_seconds"`
	DiskUsedGB        float64    `json:"disk_used_gb"`
	DiskProvisionedGB float64    `json:"disk_provisioned_gb"`
	ToolsStatus       string     `json:"tools_status,omitempty"`
	Datastore         string     `json:"datastore,omitempty"`
	VMXPath           string     `json:"vmx_path,omitempty"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
}

// Datastore is upserted on every host sync that observes it; identity is
// the hypervisor-assigned URL/UUID string.
type Datastore struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"type"`
	CapacityGB float64    `json:"capacity_gb"`
	FreeGB     float64    `json:"free_gb"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
}

// Credential is a named username/secret preset for guest operations; never
// auto-applied by the reconciler or clone orchestrator.
type Credential struct {
	ID          int64     `json:"id"`
	Alias       string    `json:"name"`
	Username    string    `json:"username"`
	Secret      string    `json:"-"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskStatus is the lifecycle state of an asynchronous operation.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// TaskKind names the class of background workflow a Task tracks.
type TaskKind string

const (
	TaskCloneVM      TaskKind = "clone_vm"
	TaskInstallTools TaskKind = "install_tools"
	TaskPowerOp      TaskKind = "power_op"
	TaskSyncHost     TaskKind = "sync_host"
)

// Task is a durable record of a long-running operation. Progress is
// monotone non-decreasing until Status reaches a terminal value.
type Task struct {
	ID        string                 `json:"id"`
	Kind      TaskKind               `json:"type"`
	TargetID  string                 `json:"target_id,omitempty"`
	Status    TaskStatus             `json:"status"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// MapPowerState applies the fixed power-state table: any value outside
// the known set becomes PowerUnknown rather than being propagated as a
// raw SDK string.
func MapPowerState(raw string) PowerState {
	switch raw {
	case string(PowerOn):
		return PowerOn
	case string(PowerOff):
		return PowerOff
	case string(PowerSuspend):
		return PowerSuspend
	default:
		return PowerUnknown
	}
}
