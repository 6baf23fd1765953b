package vsphere

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
)

// GuestAuth is the guest-side username/password used for guest
// operations (file transfer, process start) — independent of the
// hypervisor login credentials.
type GuestAuth struct {
	Username string
	Password string
}

func (a GuestAuth) namePasswordAuth() types.NamePasswordAuthentication {
	return types.NamePasswordAuthentication{
		AuthFlags: types.AuthFlags{InteractiveSession: false},
		Username:  a.Username,
		Password:  a.Password,
	}
}

// UploadFile writes content to guestPath inside the guest filesystem,
// using the guest-ops file transfer API. VMware returns an upload URL
// whose host segment can be the literal wildcard "*"; this is rewritten
// to the ESXi host's own address, since it is the TLS endpoint actually
// serving the PUT.
func (c *Client) UploadFile(ctx context.Context, vm *object.VirtualMachine, auth GuestAuth, guestPath string, content []byte, overwrite bool) error {
	fm := c.soap.ServiceContent.GuestOperationsManager
	req := types.InitiateFileTransferToGuest{
		This:          *fm,
		Vm:            vm.Reference(),
		Auth:          auth.namePasswordAuth(),
		GuestFilePath: guestPath,
		FileAttributes: &types.GuestPosixFileAttributes{
			GuestFileAttributes: types.GuestFileAttributes{},
		},
		FileSize:  int64(len(content)),
		Overwrite: overwrite,
	}

	res, err := methods.InitiateFileTransferToGuest(ctx, c.soap.Client, &req)
	if err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "initiate guest file transfer", err)
	}

	uploadURL := res.Returnval
	if strings.Contains(uploadURL, "https://*") {
		uploadURL = strings.Replace(uploadURL, "https://*", "https://"+c.address, 1)
	}

	httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "build guest upload request", err)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "upload file to guest", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apperr.New(apperr.GuestOpsKind, fmt.Sprintf("guest file upload failed: HTTP %d", resp.StatusCode))
	}
	return nil
}

// StartProgram launches programPath with the given arguments inside the
// guest and returns the started PID.
func (c *Client) StartProgram(ctx context.Context, vm *object.VirtualMachine, auth GuestAuth, programPath, arguments string) (int64, error) {
	pm := c.soap.ServiceContent.GuestOperationsManager
	req := types.StartProgramInGuest{
		This: *pm,
		Vm:   vm.Reference(),
		Auth: auth.namePasswordAuth(),
		Spec: &types.GuestProgramSpec{
			ProgramPath: programPath,
			Arguments:   arguments,
		},
	}

	res, err := methods.StartProgramInGuest(ctx, c.soap.Client, &req)
	if err != nil {
		return 0, apperr.Wrap(apperr.GuestOpsKind, "start program in guest", err)
	}
	return res.Returnval, nil
}

// ProcessStatus is the subset of GuestProcessInfo callers need to decide
// success/failure.
type ProcessStatus struct {
	Name     string
	ExitCode int32
	Ended    bool
}

// ListProcesses queries the status of pids inside the guest.
func (c *Client) ListProcesses(ctx context.Context, vm *object.VirtualMachine, auth GuestAuth, pids []int64) ([]ProcessStatus, error) {
	pm := c.soap.ServiceContent.GuestOperationsManager
	req := types.ListProcessesInGuest{
		This: *pm,
		Vm:   vm.Reference(),
		Auth: auth.namePasswordAuth(),
		Pids: pids,
	}

	res, err := methods.ListProcessesInGuest(ctx, c.soap.Client, &req)
	if err != nil {
		return nil, apperr.Wrap(apperr.GuestOpsKind, "list guest processes", err)
	}

	out := make([]ProcessStatus, 0, len(res.Returnval))
	for _, p := range res.Returnval {
		out = append(out, ProcessStatus{
			Name:     p.Name,
			ExitCode: p.ExitCode,
			Ended:    p.EndTime != nil,
		})
	}
	return out, nil
}

// WaitProcessExit polls ListProcesses for pid every 2 seconds until it
// reports an end time or the deadline elapses.
func (c *Client) WaitProcessExit(ctx context.Context, vm *object.VirtualMachine, auth GuestAuth, pid int64, deadline time.Duration) (*ProcessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		procs, err := c.ListProcesses(ctx, vm, auth, []int64{pid})
		if err == nil && len(procs) > 0 && procs[0].Ended {
			return &procs[0], nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.New(apperr.TimeoutKind, "guest process did not exit before deadline")
		case <-ticker.C:
		}
	}
}
