// Package clone implements the offline VM clone workflow: copy a
// powered-off source VM's disks and VMX to a new datastore location,
// register it under a new name, reset its identity so ESXi stops
// treating it as a duplicate, and optionally power it on and assign it
// a static guest IP.
package clone

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
	"opsnav/internal/guestconfig"
	"opsnav/internal/logger"
	"opsnav/internal/metrics"
	"opsnav/internal/models"
	"opsnav/internal/reconciler"
	"opsnav/internal/store"
	"opsnav/internal/tasks"
	"opsnav/internal/vsphere"
)

// Request is everything the clone workflow needs, resolved from an
// HTTP request by the caller before Start is invoked.
type Request struct {
	Host   *models.Host
	Source *models.VirtualMachine

	NewName         string
	TargetDatastore string
	PowerOn         bool

	AutoConfigIP  bool
	GuestUsername string
	GuestPassword string
	NewIP         string
	Netmask       string
	Gateway       string
	DNS           []string
	NICName       string

	DisconnectNICFirst bool
}

func (r *Request) nicName() string {
	if r.NICName == "" {
		return "eth0"
	}
	return r.NICName
}

// Timeouts mirror the phases of the offline clone: disk copy is the
// long pole since it is bound by datastore-to-datastore I/O, not API
// latency.
const (
	cleanupTimeout      = 60 * time.Second
	diskCopyTimeout     = 3600 * time.Second
	fileCopyTimeout     = 600 * time.Second
	registerTimeout     = 600 * time.Second
	identityResetTimeout = 180 * time.Second
	powerOnWait         = 60 * time.Second
	toolsReadyAfterPowerOn = 300 * time.Second
	toolsReadyBeforeIPConfig = 180 * time.Second
	reconnectNICTimeout = 120 * time.Second
)

// Orchestrator runs clone workflows as detached background goroutines,
// reporting progress through a Tracker so HTTP clients can poll status
// by task ID.
type Orchestrator struct {
	store      *store.Store
	tracker    *tasks.Tracker
	reconciler *reconciler.Reconciler
	log        logger.Logger
	insecure   bool
}

// New builds an Orchestrator.
func New(s *store.Store, tracker *tasks.Tracker, r *reconciler.Reconciler, log logger.Logger, insecure bool) *Orchestrator {
	return &Orchestrator{store: s, tracker: tracker, reconciler: r, log: log, insecure: insecure}
}

// Start validates req, creates a Task row, and launches the clone in a
// background goroutine detached from the caller's context — the HTTP
// handler returns immediately with the task ID.
func (o *Orchestrator) Start(req Request) (*models.Task, error) {
	if req.Source == nil || req.Host == nil {
		return nil, apperr.New(apperr.ValidationKind, "clone request missing source vm or host")
	}
	if req.NewName == "" {
		return nil, apperr.New(apperr.ValidationKind, "clone request missing new_name")
	}
	if req.AutoConfigIP {
		if req.GuestUsername == "" || req.GuestPassword == "" {
			return nil, apperr.New(apperr.ValidationKind, "auto_config_ip requires guest_username and guest_password")
		}
		if req.NewIP == "" || req.Netmask == "" {
			return nil, apperr.New(apperr.ValidationKind, "auto_config_ip requires new_ip and netmask")
		}
		req.PowerOn = true
	}

	task, err := o.tracker.Create(models.TaskCloneVM, req.Source.ID)
	if err != nil {
		return nil, err
	}

	go o.run(task.ID, req)
	return task, nil
}

func (o *Orchestrator) progress(taskID, prefix string, pct int, message string) {
	if !strings.Contains(message, prefix) {
		message = fmt.Sprintf("[%s] %s", prefix, message)
	}
	if err := o.tracker.MarkProgress(taskID, pct, message); err != nil {
		o.log.Warn("task progress update failed", "task_id", taskID, "error", err)
	}
}

// run executes every phase of the clone against a context with its own
// generous deadline, independent of whatever triggered Start.
func (o *Orchestrator) run(taskID string, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	prefix := fmt.Sprintf("%s->%s", req.Source.Name, req.NewName)
	log := o.log.With("task_id", taskID, "clone", prefix)

	result, err := o.doClone(ctx, taskID, prefix, req, log)
	if err != nil {
		log.Error("clone failed", "error", err)
		_ = o.tracker.MarkFailed(taskID, err.Error())
		metrics.ClonePhaseTotal.WithLabelValues("clone", "error").Inc()
		return
	}

	finalMsg := fmt.Sprintf("[%s] clone complete", prefix)
	if ipConfigured, _ := result["ip_configured"].(bool); !ipConfigured {
		if ipMsg, _ := result["ip_message"].(string); ipMsg != "" {
			finalMsg += fmt.Sprintf(" [IP config failed: %s]", ipMsg)
		}
	}
	result["message"] = finalMsg

	if err := o.tracker.MarkSuccess(taskID, finalMsg, result); err != nil {
		log.Warn("task success update failed", "error", err)
	}
	metrics.ClonePhaseTotal.WithLabelValues("clone", "ok").Inc()
}

func (o *Orchestrator) doClone(ctx context.Context, taskID, prefix string, req Request, log logger.Logger) (map[string]interface{}, error) {
	o.progress(taskID, prefix, 5, "connecting to esxi host")

	client, err := vsphere.Connect(ctx, req.Host.Address, req.Host.Port, req.Host.Username, req.Host.Secret, o.insecure, log)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	srcVM, err := client.FindVM(ctx, req.Source.UUID, req.Source.UUID, req.Source.IPAddress, req.Source.Name)
	if err != nil {
		return nil, err
	}

	state, err := client.PowerState(ctx, srcVM)
	if err != nil {
		return nil, err
	}
	if state != types.VirtualMachinePowerStatePoweredOff {
		return nil, apperr.New(apperr.ValidationKind, "source vm must be powered off before cloning")
	}

	config, err := client.VMConfig(ctx, srcVM)
	if err != nil {
		return nil, err
	}
	if config.Files == nil || config.Files.VmPathName == "" {
		return nil, apperr.New(apperr.HypervisorKind, "source vm has no vmx path, cannot clone")
	}

	srcVMX := config.Files.VmPathName
	srcDatastore, srcRelPath, err := vsphere.ParseDatastorePath(srcVMX)
	if err != nil {
		return nil, err
	}

	targetDatastore := req.TargetDatastore
	if targetDatastore == "" {
		targetDatastore = srcDatastore
	}
	targetDir := fmt.Sprintf("[%s] %s", targetDatastore, req.NewName)
	targetVMX := fmt.Sprintf("%s/%s", targetDir, path.Base(srcRelPath))

	if err := client.DeleteDatastorePath(ctx, targetDir, cleanupTimeout); err != nil {
		log.Warn("target directory cleanup warning", "error", err)
	}
	o.progress(taskID, prefix, 10, "preparing target directory")

	if err := client.MakeDirectory(ctx, targetDir); err != nil {
		log.Warn("make directory warning", "error", err)
	}
	o.progress(taskID, prefix, 15, "target directory created")

	for _, dev := range config.Hardware.Device {
		disk, ok := dev.(*types.VirtualDisk)
		if !ok {
			continue
		}
		backing, ok := disk.Backing.(*types.VirtualDiskFlatVer2BackingInfo)
		if !ok {
			continue
		}
		srcDisk := backing.FileName
		diskName := path.Base(srcDisk)
		dstDisk := fmt.Sprintf("%s/%s", targetDir, diskName)

		if err := client.CopyVirtualDisk(ctx, srcDisk, dstDisk, diskCopyTimeout); err != nil {
			return nil, apperr.Wrap(apperr.HypervisorKind, "copy disk "+diskName, err)
		}
		o.progress(taskID, prefix, 30, "copied disk "+diskName)
	}

	dstVMX := fmt.Sprintf("%s/%s", targetDir, path.Base(srcRelPath))
	if err := client.CopyDatastoreFile(ctx, srcVMX, dstVMX, fileCopyTimeout); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "copy vmx file", err)
	}
	o.progress(taskID, prefix, 50, "copied configuration files")

	newVM, err := client.RegisterVM(ctx, srcVM, targetVMX, req.NewName, registerTimeout)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "register cloned vm", err)
	}
	o.progress(taskID, prefix, 65, "registered virtual machine")

	if err := client.ResetIdentityAndNIC(ctx, newVM, req.NewName, req.DisconnectNICFirst, identityResetTimeout); err != nil {
		log.Warn("reset identity/mac warning", "error", err)
	}
	o.progress(taskID, prefix, 70, "reset uuid/mac")

	ipConfigured := false
	var ipMessage string

	if req.PowerOn {
		o.progress(taskID, prefix, 75, "powering on new virtual machine")
		if err := client.PowerOn(ctx, newVM, powerOnWait); err != nil {
			log.Warn("power on wait timed out or failed, continuing", "error", err)
		}

		if o.reconciler != nil {
			if _, err := o.reconciler.Reconcile(ctx, req.Host); err != nil {
				log.Warn("intermediate sync warning", "error", err)
			}
		}

		o.progress(taskID, prefix, 82, "waiting for operating system to boot")
		if err := client.WaitToolsReady(ctx, newVM, toolsReadyAfterPowerOn); err != nil {
			o.progress(taskID, prefix, 85, "power on complete (tools not ready)")
		} else {
			o.progress(taskID, prefix, 85, "operating system ready")
		}

		if req.AutoConfigIP {
			ipConfigured, ipMessage = o.configureGuestIP(ctx, taskID, prefix, client, newVM, req, log)

			if err := client.ReconnectNICs(ctx, newVM, reconnectNICTimeout); err != nil {
				log.Warn("reconnect nic failed", "error", err)
			}
		}
	}

	if o.reconciler != nil {
		if _, err := o.reconciler.Reconcile(ctx, req.Host); err != nil {
			log.Warn("final sync warning", "error", err)
		}
	}

	result := map[string]interface{}{
		"success":       true,
		"new_vm_moref":  newVM.Reference().Value,
		"new_vmx_path":  targetVMX,
		"source_ip":     req.Source.IPAddress,
		"ip_configured": ipConfigured,
	}
	if ipMessage != "" {
		result["ip_message"] = ipMessage
	}
	return result, nil
}

func (o *Orchestrator) configureGuestIP(ctx context.Context, taskID, prefix string, client *vsphere.Client, vm *object.VirtualMachine, req Request, log logger.Logger) (bool, string) {
	if err := client.WaitToolsReady(ctx, vm, toolsReadyBeforeIPConfig); err != nil {
		msg := "auto ip config failed: vmware tools did not become ready: " + err.Error()
		log.Warn("tools not ready for ip config", "error", err)
		return false, msg
	}

	o.progress(taskID, prefix, 85, "vmware tools ready, configuring guest ip")

	auth := vsphere.GuestAuth{Username: req.GuestUsername, Password: req.GuestPassword}
	params := guestconfig.Params{
		NIC: req.nicName(), IP: req.NewIP, Netmask: req.Netmask, Gateway: req.Gateway, DNS: req.DNS,
	}
	if err := guestconfig.Apply(ctx, client, vm, auth, params); err != nil {
		msg := "auto ip config failed: " + err.Error()
		log.Warn("guest ip config failed", "error", err)
		return false, msg
	}

	msg := fmt.Sprintf("assigned %s on %s", req.NewIP, req.nicName())
	o.progress(taskID, prefix, 90, msg)
	return true, msg
}
