// Package sshbootstrap installs VMware Tools (open-vm-tools) inside a
// guest over SSH, for VMs that have network reachability but no
// VMware Tools-driven guest ops channel yet. It sniffs the guest's
// package manager from /etc/os-release and dispatches accordingly.
package sshbootstrap

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"opsnav/internal/apperr"
)

const (
	dialTimeout   = 10 * time.Second
	logTruncation = 500
)

// Result reports the outcome of an install attempt, with a trimmed
// command transcript for display.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Log     []string `json:"log"`
}

const centosEOLRepoFix = "if grep -q 'release 8' /etc/redhat-release; then " +
	"sed -i 's/mirrorlist/#mirrorlist/g' /etc/yum.repos.d/CentOS-*.repo; " +
	"sed -i 's|#baseurl=http://mirror.centos.org|baseurl=http://mirrors.aliyun.com|g' /etc/yum.repos.d/CentOS-*.repo; " +
	"fi"

// installCommand picks the install/enable command for the guest's
// package manager, detected from the contents of /etc/os-release.
func installCommand(osRelease string) string {
	info := strings.ToLower(osRelease)
	switch {
	case strings.Contains(info, "centos") || strings.Contains(info, "rhel") || strings.Contains(info, "fedora"):
		return centosEOLRepoFix + " && yum install -y open-vm-tools && systemctl start vmtoolsd && systemctl enable vmtoolsd"
	case strings.Contains(info, "ubuntu") || strings.Contains(info, "debian"):
		return "export DEBIAN_FRONTEND=noninteractive; apt-get update && apt-get install -y open-vm-tools && systemctl start vmtoolsd && systemctl enable vmtoolsd"
	case strings.Contains(info, "alpine"):
		return "apk add open-vm-tools && rc-service open-vm-tools start && rc-update add open-vm-tools"
	default:
		return "yum install -y open-vm-tools || apt-get install -y open-vm-tools"
	}
}

// Install connects to address:22 as username/password, detects the
// guest distro, and runs the matching open-vm-tools install command.
func Install(address, username, password string) (*Result, error) {
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", address+":22", config)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExecKind, "ssh dial failed", err)
	}
	defer client.Close()

	osRelease, err := runCommand(client, "cat /etc/os-release")
	if err != nil {
		return nil, apperr.Wrap(apperr.ExecKind, "detect guest os", err)
	}

	cmd := installCommand(osRelease.stdout)

	log := []string{fmt.Sprintf("Command: %s", cmd)}
	res, err := runCommand(client, cmd)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExecKind, "ssh exec failed", err)
	}
	log = append(log, fmt.Sprintf("Exit Code: %d", res.exitStatus))
	if res.stdout != "" {
		log = append(log, fmt.Sprintf("Stdout: %s", truncate(res.stdout, logTruncation)))
	}
	if res.stderr != "" {
		log = append(log, fmt.Sprintf("Stderr: %s", truncate(res.stderr, logTruncation)))
	}

	if res.exitStatus != 0 {
		detail := truncate(strings.TrimSpace(res.stderr), logTruncation)
		if detail == "" {
			detail = truncate(strings.TrimSpace(res.stdout), logTruncation)
		}
		return &Result{Success: false, Message: fmt.Sprintf("install command failed (exit %d): %s", res.exitStatus, detail), Log: log},
			apperr.New(apperr.ExecKind, fmt.Sprintf("install command failed (exit %d): %s", res.exitStatus, detail))
	}

	return &Result{Success: true, Message: "installation success", Log: log}, nil
}

type execResult struct {
	stdout     string
	stderr     string
	exitStatus int
}

func runCommand(client *ssh.Client, cmd string) (*execResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	exitStatus := 0
	if err := session.Run(cmd); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitStatus = exitErr.ExitStatus()
		} else {
			return nil, err
		}
	}

	return &execResult{stdout: stdout.String(), stderr: stderr.String(), exitStatus: exitStatus}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
