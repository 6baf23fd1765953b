// Package reconciler implements the single source-of-truth sync between
// an ESXi host's live inventory and the local store: connect, pull host
// stats and VM list, upsert, and prune whatever is no longer observed.
package reconciler

import (
	"context"
	"time"

	"opsnav/internal/apperr"
	"opsnav/internal/logger"
	"opsnav/internal/metrics"
	"opsnav/internal/models"
	"opsnav/internal/store"
	"opsnav/internal/vsphere"
)

// Reconciler owns the store handle and logger used by every Reconcile
// call; it holds no per-host state, so a single instance is safe to
// share across concurrent fleet-wide reconciles.
type Reconciler struct {
	store    *store.Store
	log      logger.Logger
	insecure bool
}

// New builds a Reconciler over store.
func New(s *store.Store, log logger.Logger, insecure bool) *Reconciler {
	return &Reconciler{store: s, log: log, insecure: insecure}
}

// Summary reports what a single Reconcile call did, returned directly to
// the caller.
type Summary struct {
	HostAddress string `json:"host_address"`
	Status      string `json:"status"`
	VMCount     int    `json:"vm_count"`
	Upserted    int    `json:"upserted"`
	Pruned      int    `json:"pruned"`
}

// Probe connects to a host with explicit credentials without touching
// the store, used by the enrollment pre-flight check.
func Probe(ctx context.Context, address string, port int, username, password string, insecure bool, log logger.Logger) (*vsphere.AboutInfo, error) {
	client, err := vsphere.Connect(ctx, address, port, username, password, insecure, log)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	about := client.About(ctx)
	return &about, nil
}

// Reconcile resolves credentials for host, connects, pulls host
// statistics and the full VM inventory, upserts everything observed, and
// prunes VM rows no longer present — including the case where zero VMs
// are observed on an otherwise-reachable host, which deletes every
// cached VM for that host.
func (r *Reconciler) Reconcile(ctx context.Context, host *models.Host) (summary *Summary, err error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ReconcileTotal.WithLabelValues(result).Inc()
	}()

	log := r.log.With("host_address", host.Address)

	client, connErr := vsphere.Connect(ctx, host.Address, host.Port, host.Username, host.Secret, r.insecure, log)
	if connErr != nil {
		if apperr.KindOf(connErr) == apperr.AuthKind {
			_ = r.store.UpdateHostStatus(host.Address, models.HostAuthError)
		} else {
			_ = r.store.UpdateHostStatus(host.Address, models.HostOffline)
		}
		return nil, connErr
	}
	defer client.Close()

	summary = &Summary{HostAddress: host.Address, Status: string(models.HostOnline)}

	if stats, err := client.HostStats(ctx); err != nil {
		log.Warn("host stats fetch failed", "error", err)
	} else {
		host.Hostname = stats.Hostname
		host.Model = stats.Model
		host.Version = stats.Version
		host.CPUUsagePct = stats.CPUUsagePct
		host.MemoryUsagePct = stats.MemoryUsagePct
		host.CPUCores = int(stats.CPUCores)
		host.MemoryTotalGB = stats.MemoryTotalGB
		host.StorageTotalGB = stats.StorageTotalGB
		host.StorageFreeGB = stats.StorageFreeGB

		for _, ds := range stats.Datastores {
			lastSync := timePtr(time.Now().UTC())
			if err := r.store.UpsertDatastore(&models.Datastore{
				ID: ds.ID, Name: ds.Name, Kind: ds.Kind, CapacityGB: ds.CapacityGB, FreeGB: ds.FreeGB, LastSync: lastSync,
			}); err != nil {
				log.Warn("datastore upsert failed", "datastore", ds.Name, "error", err)
			}
		}
	}

	host.Status = models.HostOnline
	host.LastSync = timePtr(time.Now().UTC())
	if err := r.store.UpsertHost(host); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "persist host stats", err)
	}

	vms, err := client.ListVMs(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "list vms", err)
	}

	var keepIDs []string
	now := timePtr(time.Now().UTC())
	for _, v := range vms {
		id := host.Address + "-" + v.UUID
		keepIDs = append(keepIDs, id)

		vm := &models.VirtualMachine{
			ID: id, UUID: v.UUID, Name: v.Name, HostAddress: host.Address,
			PowerState: models.MapPowerState(v.PowerState), IPAddress: v.IPAddress,
			GuestOS: v.GuestOS, Annotation: v.Annotation, CPUCount: v.CPUCount,
			MemoryMB: v.MemoryMB, CPUUsageMHz: v.CPUUsageMHz, MemoryUsageMB: v.MemoryUsageMB,
			UptimeSeconds: v.UptimeSeconds, DiskUsedGB: v.DiskUsedGB, DiskProvisionedGB: v.DiskProvisionedGB,
			ToolsStatus: v.ToolsStatus, VMXPath: v.VMXPath, LastSync: now,
		}
		if ds, _, dsErr := vsphere.ParseDatastorePath(v.VMXPath); dsErr == nil {
			vm.Datastore = ds
		}

		if err := r.store.UpsertVM(vm); err != nil {
			log.Warn("vm upsert failed", "vm", v.Name, "error", err)
			continue
		}
		summary.Upserted++
	}
	summary.VMCount = len(vms)

	before, err := r.store.ListVMsByHost(host.Address)
	if err == nil {
		pruneCount := 0
		kept := make(map[string]bool, len(keepIDs))
		for _, id := range keepIDs {
			kept[id] = true
		}
		for _, vm := range before {
			if !kept[vm.ID] {
				pruneCount++
			}
		}
		summary.Pruned = pruneCount
	}

	if err := r.store.DeleteVMsForHost(host.Address, keepIDs); err != nil {
		log.Warn("prune stale vms failed", "error", err)
	}

	log.Info("reconcile complete", "vm_count", summary.VMCount, "pruned", summary.Pruned)
	return summary, nil
}

// ReconcileAll runs Reconcile against every enrolled host, continuing
// past individual failures — mirrors sync_all_hosts's best-effort fan-out.
func (r *Reconciler) ReconcileAll(ctx context.Context) []*Summary {
	hosts, err := r.store.ListHosts()
	if err != nil {
		r.log.Error("list hosts for fleet reconcile failed", "error", err)
		return nil
	}

	summaries := make([]*Summary, 0, len(hosts))
	for _, h := range hosts {
		summary, err := r.Reconcile(ctx, h)
		if err != nil {
			r.log.Warn("reconcile failed", "host_address", h.Address, "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func timePtr(t time.Time) *time.Time { return &t }
