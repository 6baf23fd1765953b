package vsphere

import (
	"context"

	"github.com/vmware/govmomi/object"

	"opsnav/internal/apperr"
)

// FindVM looks up vm on the hypervisor by, in order, instance UUID, BIOS
// UUID, last-known IP, then DNS/display name — the same fallback chain
// the original implementation uses, since a VM can be re-registered with
// a changed UUID or a stale IP in the local cache.
func (c *Client) FindVM(ctx context.Context, instanceUUID, biosUUID, ip, name string) (*object.VirtualMachine, error) {
	searchIndex := object.NewSearchIndex(c.soap.Client)

	trueVal := true
	if instanceUUID != "" {
		if ref, err := searchIndex.FindByUuid(ctx, c.dc, instanceUUID, true, &trueVal); err == nil && ref != nil {
			return object.NewVirtualMachine(c.soap.Client, ref.Reference()), nil
		}
	}
	falseVal := false
	if biosUUID != "" {
		if ref, err := searchIndex.FindByUuid(ctx, c.dc, biosUUID, true, &falseVal); err == nil && ref != nil {
			return object.NewVirtualMachine(c.soap.Client, ref.Reference()), nil
		}
	}
	if ip != "" {
		if ref, err := searchIndex.FindByIp(ctx, c.dc, ip, true); err == nil && ref != nil {
			return object.NewVirtualMachine(c.soap.Client, ref.Reference()), nil
		}
	}
	if name != "" {
		if ref, err := searchIndex.FindByDnsName(ctx, c.dc, name, true); err == nil && ref != nil {
			return object.NewVirtualMachine(c.soap.Client, ref.Reference()), nil
		}
		if vm, err := c.finder.VirtualMachine(ctx, name); err == nil {
			return vm, nil
		}
	}

	return nil, apperr.New(apperr.NotFoundKind, "virtual machine not found by uuid, ip, or name")
}
