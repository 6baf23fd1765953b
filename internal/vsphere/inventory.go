package vsphere

import (
	"context"

	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"

	"opsnav/internal/apperr"
)

// AboutInfo is the subset of ServiceContent.About probe_host reports.
type AboutInfo struct {
	Hostname string
	Vendor   string
	Model    string
	Version  string
}

// About returns the connected host's identity, used by the enrollment
// probe endpoint.
func (c *Client) About(ctx context.Context) AboutInfo {
	about := c.soap.ServiceContent.About
	hostname := about.Name
	if hostname == "" {
		hostname = "localhost"
	}
	return AboutInfo{Hostname: hostname, Vendor: about.Vendor, Model: about.OsType, Version: about.FullName}
}

// HostSummary is the resource snapshot the reconciler folds into Host.
type HostSummary struct {
	Hostname       string
	Model          string
	Version        string
	CPUUsagePct    float64
	MemoryUsagePct float64
	CPUCores       int32
	MemoryTotalGB  float64
	StorageTotalGB float64
	StorageFreeGB  float64
	Datastores     []DatastoreSummary
}

// DatastoreSummary is one entry from HostSystem.Summary.Datastore.
type DatastoreSummary struct {
	ID         string
	Name       string
	Kind       string
	CapacityGB float64
	FreeGB     float64
}

const gigabyte = 1024 * 1024 * 1024

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// HostStats retrieves the single managed HostSystem's hardware, quick
// stats, and attached datastores.
func (c *Client) HostStats(ctx context.Context) (*HostSummary, error) {
	v, err := view.NewManager(c.soap.Client).CreateContainerView(ctx, c.soap.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "create host container view", err)
	}
	defer v.Destroy(ctx)

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, []string{"summary", "datastore"}, &hosts); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "retrieve host system", err)
	}
	if len(hosts) == 0 {
		return nil, apperr.New(apperr.HypervisorKind, "no HostSystem found")
	}

	host := hosts[0]
	summary := host.Summary
	hw := summary.Hardware
	quick := summary.QuickStats

	out := &HostSummary{Hostname: host.Name}
	if hw != nil {
		out.CPUCores = hw.NumCpuCores
		out.Model = hw.Model
		totalCPUMhz := int64(hw.CpuMhz) * int64(hw.NumCpuCores)
		if quick != nil && totalCPUMhz > 0 {
			out.CPUUsagePct = round2(float64(quick.OverallCpuUsage) / float64(totalCPUMhz) * 100)
		}

		memTotal := hw.MemorySize
		if quick != nil && memTotal > 0 {
			memUsed := int64(quick.OverallMemoryUsage) * 1024 * 1024
			out.MemoryUsagePct = round2(float64(memUsed) / float64(memTotal) * 100)
			out.MemoryTotalGB = round2(float64(memTotal) / gigabyte)
		}
	}
	if summary.Config != nil {
		out.Version = summary.Config.Product.FullName
	}

	var totalCap, totalFree float64
	if dsRefs := host.Datastore; len(dsRefs) > 0 {
		var datastores []mo.Datastore
		pc := property.DefaultCollector(c.soap.Client)
		if err := pc.Retrieve(ctx, dsRefs, []string{"summary"}, &datastores); err == nil {
			for _, ds := range datastores {
				s := ds.Summary
				capGB := round2(float64(s.Capacity) / gigabyte)
				freeGB := round2(float64(s.FreeSpace) / gigabyte)
				totalCap += capGB
				totalFree += freeGB
				out.Datastores = append(out.Datastores, DatastoreSummary{
					ID: s.Url, Name: s.Name, Kind: s.Type, CapacityGB: capGB, FreeGB: freeGB,
				})
			}
		}
	}
	out.StorageTotalGB = round2(totalCap)
	out.StorageFreeGB = round2(totalFree)

	return out, nil
}

// VMSummary is one VM's inventory snapshot as the reconciler ingests it.
type VMSummary struct {
	UUID              string
	Name              string
	PowerState        string
	IPAddress         string
	GuestOS           string
	Annotation        string
	CPUCount          int32
	MemoryMB          int64
	CPUUsageMHz       int32
	MemoryUsageMB     int32
	UptimeSeconds     int64
	DiskUsedGB        float64
	DiskProvisionedGB float64
	ToolsStatus       string
	VMXPath           string
}

// ListVMs enumerates every VM visible to this session and extracts the
// fields the reconciler needs, skipping any VM whose config is not yet
// ready — e.g. a freshly registered VM before ESXi finishes indexing it.
func (c *Client) ListVMs(ctx context.Context) ([]VMSummary, error) {
	v, err := view.NewManager(c.soap.Client).CreateContainerView(ctx, c.soap.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "create vm container view", err)
	}
	defer v.Destroy(ctx)

	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, []string{"summary", "config"}, &vms); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "retrieve virtual machines", err)
	}

	out := make([]VMSummary, 0, len(vms))
	for _, vm := range vms {
		config := vm.Summary.Config
		if config.Uuid == "" && vm.Config != nil {
			config.Uuid = vm.Config.Uuid
			config.Name = vm.Config.Name
			config.NumCpu = vm.Config.Hardware.NumCPU
			config.MemorySizeMB = int32(vm.Config.Hardware.MemoryMB)
			config.Annotation = vm.Config.Annotation
			config.VmPathName = vm.Config.Files.VmPathName
			config.GuestFullName = vm.Config.GuestFullName
		}
		if config.Uuid == "" {
			continue
		}

		guest := vm.Summary.Guest
		runtime := vm.Summary.Runtime
		quick := vm.Summary.QuickStats
		storage := vm.Summary.Storage

		s := VMSummary{
			UUID:       config.Uuid,
			Name:       config.Name,
			PowerState: string(runtime.PowerState),
			CPUCount:   config.NumCpu,
			MemoryMB:   int64(config.MemorySizeMB),
			Annotation: config.Annotation,
			VMXPath:    config.VmPathName,
			GuestOS:    config.GuestFullName,
		}
		if guest != nil {
			if guest.IpAddress != "" {
				s.IPAddress = guest.IpAddress
			}
			if guest.GuestFullName != "" {
				s.GuestOS = guest.GuestFullName
			}
			s.ToolsStatus = string(guest.ToolsStatus)
		}
		if quick != nil {
			s.CPUUsageMHz = quick.OverallCpuUsage
			s.MemoryUsageMB = quick.GuestMemoryUsage
			s.UptimeSeconds = int64(quick.UptimeSeconds)
		}
		if storage != nil {
			s.DiskUsedGB = round2(float64(storage.Committed) / gigabyte)
			s.DiskProvisionedGB = round2(float64(storage.Committed+storage.Uncommitted) / gigabyte)
		}

		out = append(out, s)
	}
	return out, nil
}
