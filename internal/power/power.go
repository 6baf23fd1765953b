// Package power dispatches VM power actions (on/off/shutdown/reboot/
// reset) with the same action-alias table and fallback behavior as the
// original control plane's power endpoint.
package power

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
	"opsnav/internal/logger"
	"opsnav/internal/metrics"
	"opsnav/internal/models"
	"opsnav/internal/reconciler"
	"opsnav/internal/store"
	"opsnav/internal/vsphere"
)

// Controller executes power actions against a single VM's owning host
// and best-effort resyncs that host's inventory afterward.
type Controller struct {
	store      *store.Store
	reconciler *reconciler.Reconciler
	log        logger.Logger
	insecure   bool
}

// New builds a Controller.
func New(s *store.Store, r *reconciler.Reconciler, log logger.Logger, insecure bool) *Controller {
	return &Controller{store: s, reconciler: r, log: log, insecure: insecure}
}

const (
	powerOnWait  = 60 * time.Second
	powerOffWait = 600 * time.Second
	resetWait    = 600 * time.Second
)

// Result is what a power action reports back to the caller — there is
// no async Task row for power actions since they complete within a
// single HTTP request's budget.
type Result struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Apply resolves vm's owning host, connects, and executes action,
// accepting the same aliases the original endpoint did:
//
//	poweron, on, start        — power on (auto-answers copied/moved questions)
//	shutdown, shutdownguest, guestshutdown — graceful guest shutdown only, no hard fallback
//	poweroff, off, halt       — hard power off
//	reboot, rebootguest       — graceful guest reboot, falls back to hard reset on failure
//	reset, hardreset          — hard reset
func (c *Controller) Apply(ctx context.Context, vm *models.VirtualMachine, action string) (result *Result, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.PowerActionTotal.WithLabelValues(strings.ToLower(action), status).Inc()
	}()

	host, err := c.store.GetHostByAddress(vm.HostAddress)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFoundKind, "owning host not found for vm "+vm.ID, err)
	}

	log := c.log.With("vm", vm.Name, "action", action)
	client, err := vsphere.Connect(ctx, host.Address, host.Port, host.Username, host.Secret, c.insecure, log)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	vmObj, err := client.FindVM(ctx, vm.UUID, vm.UUID, vm.IPAddress, vm.Name)
	if err != nil {
		return nil, err
	}

	msg, err := c.dispatch(ctx, client, vmObj, action)
	if err != nil {
		return nil, err
	}

	if c.reconciler != nil {
		if _, syncErr := c.reconciler.Reconcile(ctx, host); syncErr != nil {
			log.Warn("post-power sync failed", "error", syncErr)
		}
	}

	return &Result{
		TaskID:  fmt.Sprintf("power-%s-%d", vm.ID, time.Now().Unix()),
		Status:  "success",
		Message: msg,
	}, nil
}

func (c *Controller) dispatch(ctx context.Context, client *vsphere.Client, vmObj *object.VirtualMachine, action string) (string, error) {
	act := strings.ToLower(action)

	state, err := client.PowerState(ctx, vmObj)
	if err != nil {
		return "", err
	}

	switch {
	case oneOf(act, "poweron", "on", "start"):
		if state == types.VirtualMachinePowerStatePoweredOn {
			return "vm is already powered on", nil
		}
		if err := client.PowerOn(ctx, vmObj, powerOnWait); err != nil {
			return "", err
		}
		return "powered on", nil

	case oneOf(act, "shutdown", "shutdownguest", "guestshutdown"):
		if state == types.VirtualMachinePowerStatePoweredOff {
			return "vm is already powered off", nil
		}
		if err := client.ShutdownGuest(ctx, vmObj); err != nil {
			return "", apperr.Wrap(apperr.ValidationKind, "graceful shutdown failed, check vmware tools", err)
		}
		return "graceful shutdown requested (requires VMware Tools)", nil

	case oneOf(act, "poweroff", "off", "halt"):
		if state == types.VirtualMachinePowerStatePoweredOff {
			return "vm is already powered off", nil
		}
		if err := client.PowerOffHard(ctx, vmObj, powerOffWait); err != nil {
			return "", err
		}
		return "hard power off executed", nil

	case oneOf(act, "reboot", "rebootguest"):
		if err := client.RebootGuest(ctx, vmObj); err != nil {
			c.log.Warn("guest reboot failed, falling back to hard reset", "error", err)
			if err := client.ResetHard(ctx, vmObj, resetWait); err != nil {
				return "", err
			}
			return "graceful reboot failed, hard reset executed instead", nil
		}
		return "graceful reboot requested (requires VMware Tools)", nil

	case oneOf(act, "reset", "hardreset"):
		if err := client.ResetHard(ctx, vmObj, resetWait); err != nil {
			return "", err
		}
		return "hard reset executed", nil

	default:
		return "", apperr.New(apperr.ValidationKind, "unsupported power action: "+action)
	}
}

func oneOf(s string, candidates ...string) bool {
	for _, c := range candidates {
		if s == c {
			return true
		}
	}
	return false
}
