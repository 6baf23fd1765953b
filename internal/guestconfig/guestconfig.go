// Package guestconfig configures a guest network interface over
// VMware Tools guest operations: it writes an nmcli-based shell script
// into the guest filesystem and executes it, so the guest never needs
// inbound SSH access for the clone workflow's final IP assignment.
package guestconfig

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"

	"opsnav/internal/apperr"
	"opsnav/internal/vsphere"
)

// Params is everything needed to assign a static IP to one NIC inside
// a running guest.
type Params struct {
	NIC     string
	IP      string
	Netmask string
	Gateway string
	DNS     []string
}

// nmcliActivationFailed is the exit code nmcli returns when `con up`
// can't bring the link up (e.g. the switch side hasn't caught up yet)
// even though the connection profile was written successfully.
const nmcliActivationFailed = 8

const scriptWait = 20 * time.Second

// Apply writes and runs the IP configuration script inside vm's guest,
// using auth as the in-guest credentials. An exit code of 8 from the
// underlying nmcli activation is tolerated: the connection profile is
// on disk and will come up once the link does.
func Apply(ctx context.Context, client *vsphere.Client, vm *object.VirtualMachine, auth vsphere.GuestAuth, p Params) error {
	prefix, err := netmaskToPrefix(p.Netmask)
	if err != nil {
		return apperr.Wrap(apperr.ValidationKind, "invalid netmask "+p.Netmask, err)
	}

	script := buildScript(p, prefix)
	scriptPath := fmt.Sprintf("/tmp/opsnav-setup-%s.sh", p.NIC)

	if err := client.UploadFile(ctx, vm, auth, scriptPath, []byte(script), true); err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "upload guest ip config script", err)
	}

	pid, err := client.StartProgram(ctx, vm, auth, "/bin/sh", scriptPath)
	if err != nil {
		return apperr.Wrap(apperr.GuestOpsKind, "start guest ip config script", err)
	}

	select {
	case <-time.After(scriptWait):
	case <-ctx.Done():
		return apperr.New(apperr.TimeoutKind, "context canceled while guest ip config script ran")
	}

	procs, err := client.ListProcesses(ctx, vm, auth, []int64{pid})
	if err != nil || len(procs) == 0 {
		// the script may already have been reaped; treat this as best-effort
		// success since the file was written and started.
		return nil
	}

	proc := procs[0]
	if !proc.Ended {
		return nil
	}
	if proc.ExitCode == 0 {
		return nil
	}
	if proc.ExitCode == nmcliActivationFailed {
		return nil
	}
	return apperr.New(apperr.GuestOpsKind, fmt.Sprintf("guest ip config script exited %d, see /tmp/opsnav-ip-%s.log in the guest", proc.ExitCode, p.NIC))
}

// netmaskToPrefix converts a dotted netmask ("255.255.255.0") to its
// CIDR prefix length.
func netmaskToPrefix(netmask string) (int, error) {
	ip := net.ParseIP(netmask).To4()
	if ip == nil {
		return 0, fmt.Errorf("not a dotted ipv4 netmask: %q", netmask)
	}
	ones, bits := net.IPMask(ip).Size()
	if bits != 32 {
		return 0, fmt.Errorf("not a contiguous ipv4 netmask: %q", netmask)
	}
	return ones, nil
}

// buildScript generates the nmcli profile-replace script: delete every
// existing profile bound to nic, create a fresh opsnav one, set
// address/gateway/dns, reload, then down/up tolerating activation
// failure when the link is not yet up.
func buildScript(p Params, prefix int) string {
	conName := "opsnav-" + p.NIC
	logPath := fmt.Sprintf("/tmp/opsnav-ip-%s.log", p.NIC)
	dnsList := strings.Join(p.DNS, " ")

	var b strings.Builder
	fmt.Fprintf(&b, "NIC='%s'\n", p.NIC)
	fmt.Fprintf(&b, "CON='%s'\n", conName)
	fmt.Fprintf(&b, "LOG=%q\n", logPath)
	fmt.Fprintf(&b, "echo \"[opsnav] start $(date)\" > \"$LOG\"\n")
	b.WriteString("echo \"[opsnav] checking NetworkManager...\" >> \"$LOG\"\n")
	b.WriteString("if ! systemctl is-active NetworkManager >>\"$LOG\" 2>&1; then echo \"[opsnav] starting NetworkManager...\" >> \"$LOG\"; systemctl start NetworkManager >>\"$LOG\" 2>&1 || true; sleep 3; fi\n")
	b.WriteString("echo \"[opsnav] NetworkManager: $(systemctl is-active NetworkManager 2>&1)\" >> \"$LOG\"\n")
	b.WriteString("set -e\n")
	b.WriteString("nmcli -t -f NAME,DEVICE con show | awk -F: -v nic=\"$NIC\" '$2==nic{print $1}' | while read -r c; do [ -n \"$c\" ] && nmcli con del \"$c\" >>\"$LOG\" 2>&1 || true; done\n")
	b.WriteString("nmcli con add type ethernet ifname \"$NIC\" con-name \"$CON\" autoconnect yes >>\"$LOG\" 2>&1\n")
	fmt.Fprintf(&b, "nmcli con mod \"$CON\" ipv4.addresses %s/%d ipv4.method manual >>\"$LOG\" 2>&1\n", p.IP, prefix)
	if p.Gateway != "" {
		fmt.Fprintf(&b, "nmcli con mod \"$CON\" ipv4.gateway '%s' >>\"$LOG\" 2>&1\n", p.Gateway)
	}
	if dnsList != "" {
		fmt.Fprintf(&b, "nmcli con mod \"$CON\" ipv4.dns '%s' ipv4.ignore-auto-dns yes >>\"$LOG\" 2>&1\n", dnsList)
	}
	b.WriteString("nmcli con mod \"$CON\" connection.autoconnect yes >>\"$LOG\" 2>&1\n")
	b.WriteString("nmcli con reload >>\"$LOG\" 2>&1\n")
	b.WriteString("nmcli con down \"$CON\" >>\"$LOG\" 2>&1 || true\n")
	b.WriteString("nmcli con up \"$CON\" >>\"$LOG\" 2>&1 || true\n")
	b.WriteString("echo \"[opsnav] end $(date)\" >> \"$LOG\"\n")
	b.WriteString("exit 0\n")
	return b.String()
}
