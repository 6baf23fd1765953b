package vsphere

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
)

// VMConfig fetches vm's full config info, the source of truth for its
// VMX path, hardware device list, and auxiliary files (nvram, vmxf).
func (c *Client) VMConfig(ctx context.Context, vm *object.VirtualMachine) (*types.VirtualMachineConfigInfo, error) {
	var moVM struct {
		Config *types.VirtualMachineConfigInfo
	}
	if err := vm.Properties(ctx, vm.Reference(), []string{"config"}, &moVM); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "read vm config", err)
	}
	if moVM.Config == nil {
		return nil, apperr.New(apperr.HypervisorKind, "vm has no config, cannot clone")
	}
	return moVM.Config, nil
}

// ParseDatastorePath splits "[datastore1] folder/file.vmx" into
// ("datastore1", "folder/file.vmx").
func ParseDatastorePath(p string) (datastore, rel string, err error) {
	open := strings.Index(p, "[")
	close := strings.Index(p, "]")
	if open < 0 || close < 0 || close < open {
		return "", "", apperr.New(apperr.ValidationKind, "cannot parse datastore path: "+p)
	}
	return p[open+1 : close], strings.TrimSpace(p[close+1:]), nil
}

// DeleteDatastorePath removes a file or directory, tolerating "does not
// exist" as success — used to clean a prior failed clone's target
// directory before retrying.
func (c *Client) DeleteDatastorePath(ctx context.Context, datastorePath string, deadline time.Duration) error {
	fm := object.NewFileManager(c.soap.Client)
	task, err := fm.DeleteDatastoreFile(ctx, datastorePath, c.dc)
	if err != nil {
		return nil // ESXi rejects the request outright when the path is absent; treat as already-clean.
	}
	_, waitErr := c.WaitTask(ctx, task, "delete "+datastorePath, deadline)
	if waitErr != nil {
		return nil
	}
	return nil
}

// MakeDirectory creates datastorePath (and parents), idempotently — a
// second call against an already-created directory is not an error.
func (c *Client) MakeDirectory(ctx context.Context, datastorePath string) error {
	fm := object.NewFileManager(c.soap.Client)
	err := fm.MakeDirectory(ctx, datastorePath, c.dc, true)
	if err != nil {
		// ESXi returns FileAlreadyExists for a directory that's already there.
		if soap.IsSoapFault(err) {
			if _, ok := soap.ToSoapFault(err).VimFault().(types.FileAlreadyExists); ok {
				return nil
			}
		}
		return apperr.Wrap(apperr.HypervisorKind, "make directory "+datastorePath, err)
	}
	return nil
}

// CopyVirtualDisk clones a VMDK, preserving format, with force overwrite.
func (c *Client) CopyVirtualDisk(ctx context.Context, src, dst string, deadline time.Duration) error {
	req := types.CopyVirtualDisk_Task{
		This:             c.soap.ServiceContent.VirtualDiskManager.Reference(),
		SourceName:       src,
		SourceDatacenter: types.NewReference(c.dc.Reference()),
		DestName:         dst,
		DestDatacenter:   types.NewReference(c.dc.Reference()),
		Force:            types.NewBool(true),
	}
	res, err := methods.CopyVirtualDisk_Task(ctx, c.soap.Client, &req)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start copy virtual disk", err)
	}
	task := object.NewTask(c.soap.Client, res.Returnval)
	_, err = c.WaitTask(ctx, task, fmt.Sprintf("copy disk %s", path.Base(dst)), deadline)
	return err
}

// CopyDatastoreFile copies a single file (vmx/nvram/vmxf) between
// datastore paths with force overwrite.
func (c *Client) CopyDatastoreFile(ctx context.Context, src, dst string, deadline time.Duration) error {
	fm := object.NewFileManager(c.soap.Client)
	task, err := fm.CopyDatastoreFile(ctx, src, c.dc, dst, c.dc, true)
	if err != nil {
		return apperr.Wrap(apperr.HypervisorKind, "start copy datastore file", err)
	}
	_, err = c.WaitTask(ctx, task, fmt.Sprintf("copy file %s", path.Base(dst)), deadline)
	return err
}

// RegisterVM registers vmxPath under the datacenter's VM folder on the
// same resource pool and host the source VM is running on, and returns
// the new VM handle.
func (c *Client) RegisterVM(ctx context.Context, source *object.VirtualMachine, vmxPath, name string, deadline time.Duration) (*object.VirtualMachine, error) {
	var moSrc struct {
		ResourcePool *types.ManagedObjectReference
		Runtime      types.VirtualMachineRuntimeInfo
	}
	if err := source.Properties(ctx, source.Reference(), []string{"resourcePool", "runtime"}, &moSrc); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "read source vm resource pool", err)
	}

	folders, err := c.dc.Folders(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "read datacenter folders", err)
	}

	var pool *object.ResourcePool
	if moSrc.ResourcePool != nil {
		pool = object.NewResourcePool(c.soap.Client, *moSrc.ResourcePool)
	}
	var hostRef *object.HostSystem
	if moSrc.Runtime.Host != nil {
		hostRef = object.NewHostSystem(c.soap.Client, *moSrc.Runtime.Host)
	}

	task, err := folders.VmFolder.RegisterVM(ctx, vmxPath, name, false, pool, hostRef)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "start register vm", err)
	}

	result, err := c.WaitTask(ctx, task, "register vm "+name, deadline)
	if err != nil {
		return nil, err
	}
	moRef, ok := (*result).(types.ManagedObjectReference)
	if !ok {
		return nil, apperr.New(apperr.HypervisorKind, "register vm: unexpected task result type")
	}
	return object.NewVirtualMachine(c.soap.Client, moRef), nil
}
