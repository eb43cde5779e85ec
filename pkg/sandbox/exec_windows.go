//go:build windows

package sandbox

import "os/exec"

// setSysProcAttr is a no-op on Windows - Setpgid is not available.
func setSysProcAttr(cmd *exec.Cmd) {}

// killProcessGroup kills just the process; Windows has no process groups in
// the Unix sense.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
