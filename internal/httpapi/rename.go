package httpapi

import (
	"net/http"
	"time"

	"opsnav/internal/apperr"
	"opsnav/internal/models"
	"opsnav/internal/vsphere"
)

const renameAnnotateTimeout = 60 * time.Second

// applyVMRename pushes name/annotation to the hypervisor, then mirrors
// the change into the cached row — the cache is never the source of
// truth for a mutation, only for reads between syncs.
func (s *Server) applyVMRename(r *http.Request, host *models.Host, vm *models.VirtualMachine, name, annotation string) error {
	log := s.log.With("vm", vm.Name)
	client, err := vsphere.Connect(r.Context(), host.Address, host.Port, host.Username, host.Secret, s.insecure, log)
	if err != nil {
		return err
	}
	defer client.Close()

	vmObj, err := client.FindVM(r.Context(), vm.UUID, vm.UUID, vm.IPAddress, vm.Name)
	if err != nil {
		return err
	}

	if name != vm.Name {
		if err := client.Rename(r.Context(), vmObj, name, renameAnnotateTimeout); err != nil {
			return apperr.Wrap(apperr.HypervisorKind, "rename vm", err)
		}
	}
	if annotation != vm.Annotation {
		if err := client.SetAnnotation(r.Context(), vmObj, annotation, renameAnnotateTimeout); err != nil {
			return apperr.Wrap(apperr.HypervisorKind, "annotate vm", err)
		}
	}

	return s.store.RenameAndAnnotateVM(vm.ID, name, annotation)
}
