package vsphere

import (
	"context"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
)

// PowerState reads the VM's current runtime power state.
func (c *Client) PowerState(ctx context.Context, vm *object.VirtualMachine) (types.VirtualMachinePowerState, error) {
	var moVM mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"runtime.powerState"}, &moVM); err != nil {
		return "", apperr.Wrap(apperr.HypervisorKind, "read power state", err)
	}
	return moVM.Runtime.PowerState, nil
}

// PowerOn starts vm, auto-answering any "copied/moved" question while
// the task is in flight.
func (c *Client) PowerOn(ctx context.Context, vm *object.VirtualMachine, deadline time.Duration) error {
	task, err := vm.PowerOn(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start power on", err)
	}
	return c.WaitForTaskWithQuestions(ctx, task, vm, "power on", deadline)
}

// PowerOffHard forcefully powers off vm without guest cooperation
// (the "hard" power-off path; ResetHard is the reset).
func (c *Client) PowerOffHard(ctx context.Context, vm *object.VirtualMachine, deadline time.Duration) error {
	task, err := vm.PowerOff(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start power off", err)
	}
	_, err = c.WaitTask(ctx, task, "power off", deadline)
	return err
}

// ShutdownGuest requests a graceful guest shutdown via VMware Tools. It
// does not wait for the guest to actually power off — callers that need
// that should poll PowerState.
func (c *Client) ShutdownGuest(ctx context.Context, vm *object.VirtualMachine) error {
	if err := vm.ShutdownGuest(ctx); err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "shutdown guest (requires VMware Tools)", err)
	}
	return nil
}

// RebootGuest requests a graceful guest reboot via VMware Tools.
func (c *Client) RebootGuest(ctx context.Context, vm *object.VirtualMachine) error {
	if err := vm.RebootGuest(ctx); err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "reboot guest (requires VMware Tools)", err)
	}
	return nil
}

// ResetHard performs a hard reset (power-cycle without guest
// cooperation) — used both for the explicit reset action and as the
// reboot fallback when RebootGuest fails.
func (c *Client) ResetHard(ctx context.Context, vm *object.VirtualMachine, deadline time.Duration) error {
	task, err := vm.Reset(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start reset", err)
	}
	_, err = c.WaitTask(ctx, task, "reset", deadline)
	return err
}

// Rename issues a Rename_Task for vm.
func (c *Client) Rename(ctx context.Context, vm *object.VirtualMachine, newName string, deadline time.Duration) error {
	task, err := vm.Rename(ctx, newName)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start rename", err)
	}
	_, err = c.WaitTask(ctx, task, "rename vm", deadline)
	return err
}

// SetAnnotation issues a ReconfigVM_Task to update just the annotation.
func (c *Client) SetAnnotation(ctx context.Context, vm *object.VirtualMachine, annotation string, deadline time.Duration) error {
	task, err := vm.Reconfigure(ctx, types.VirtualMachineConfigSpec{Annotation: annotation})
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start annotation update", err)
	}
	_, err = c.WaitTask(ctx, task, "update annotation", deadline)
	return err
}

// ResetIdentityAndNIC regenerates the VM's MAC addresses and BIOS UUID
// (so ESXi stops treating it as a copy of its source) and, when
// disconnectNIC is true, disconnects every network adapter first so the
// VM comes up isolated until guest IP configuration finishes.
func (c *Client) ResetIdentityAndNIC(ctx context.Context, vm *object.VirtualMachine, newName string, disconnectNIC bool, deadline time.Duration) error {
	devices, err := vm.Device(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "read vm devices", err)
	}

	var changes []types.BaseVirtualDeviceConfigSpec
	for _, dev := range devices {
		nic, ok := dev.(types.BaseVirtualEthernetCard)
		if !ok {
			continue
		}
		card := nic.GetVirtualEthernetCard()
		card.AddressType = string(types.VirtualEthernetCardMacTypeGenerated)
		card.MacAddress = ""
		if disconnectNIC && card.Connectable != nil {
			card.Connectable.Connected = false
			card.Connectable.StartConnected = false
		}
		changes = append(changes, &types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationEdit,
			Device:    dev,
		})
	}

	spec := types.VirtualMachineConfigSpec{
		Name:         newName,
		DeviceChange: changes,
		ExtraConfig: []types.BaseOptionValue{
			&types.OptionValue{Key: "uuid.action", Value: "create"},
			&types.OptionValue{Key: "uuid.bios", Value: ""},
			&types.OptionValue{Key: "uuid.location", Value: ""},
		},
	}

	task, err := vm.Reconfigure(ctx, spec)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start reset identity", err)
	}
	_, err = c.WaitTask(ctx, task, "reset identity and nic", deadline)
	return err
}

// ReconnectNICs re-enables every network adapter disconnected by
// ResetIdentityAndNIC, run after guest IP configuration finishes whether
// or not it succeeded.
func (c *Client) ReconnectNICs(ctx context.Context, vm *object.VirtualMachine, deadline time.Duration) error {
	devices, err := vm.Device(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "read vm devices", err)
	}

	var changes []types.BaseVirtualDeviceConfigSpec
	for _, dev := range devices {
		nic, ok := dev.(types.BaseVirtualEthernetCard)
		if !ok {
			continue
		}
		card := nic.GetVirtualEthernetCard()
		if card.Connectable != nil {
			card.Connectable.Connected = true
			card.Connectable.StartConnected = true
		}
		changes = append(changes, &types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationEdit,
			Device:    dev,
		})
	}
	if len(changes) == 0 {
		return nil
	}

	task, err := vm.Reconfigure(ctx, types.VirtualMachineConfigSpec{DeviceChange: changes})
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start reconnect nic", err)
	}
	_, err = c.WaitTask(ctx, task, "reconnect nic", deadline)
	return err
}

// RemoveCDROMDevices detaches every CD/DVD device, avoiding a dangling
// ISO reference after a clone.
func (c *Client) RemoveCDROMDevices(ctx context.Context, vm *object.VirtualMachine) error {
	devices, err := vm.Device(ctx)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "read vm devices", err)
	}

	var cdroms object.VirtualDeviceList
	for _, dev := range devices {
		if _, ok := dev.(*types.VirtualCdrom); ok {
			cdroms = append(cdroms, dev)
		}
	}
	if len(cdroms) == 0 {
		return nil
	}
	if err := vm.RemoveDevice(ctx, true, cdroms...); err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "remove cdrom devices", err)
	}
	return nil
}
