//go:build !linux

package process

import "os/exec"

// hasNamespaceCapability is always false off Linux: this package has
// no namespace backend there, so RequireIsolation reports the platform
// gap instead of silently downgrading.
func hasNamespaceCapability() bool { return false }

// applyPlatformIsolation is a no-op outside Linux; Command still runs
// the external process, just without process-group/session isolation.
func applyPlatformIsolation(c *exec.Cmd, cfg ExternalConfig) {}
