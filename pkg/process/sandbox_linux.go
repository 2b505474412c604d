//go:build linux

package process

import (
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// hasNamespaceCapability reports whether this process can plausibly set
// up Linux namespace isolation for Strict/Standard external commands:
// root, CAP_SYS_ADMIN, or unprivileged user namespaces enabled by
// sysctl.
func hasNamespaceCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	var hdr unix.CapUserHeader
	var data unix.CapUserData
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_1
	hdr.Pid = 0
	if err := unix.Capget(&hdr, &data); err == nil {
		if data.Effective&(1<<unix.CAP_SYS_ADMIN) != 0 {
			return true
		}
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	return false
}

// applyPlatformIsolation sets the SysProcAttr a Strict/Standard external
// command runs under: its own process group and session, so a killed
// shell tree cannot leave orphaned children behind, plus a parent-death
// signal so the child dies if this process is killed first.
func applyPlatformIsolation(c *exec.Cmd, cfg ExternalConfig) {
	c.SysProcAttr = &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGKILL,
	}
}
