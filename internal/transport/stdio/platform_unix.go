//go:build !windows

package stdio

import (
	"os/exec"
	"syscall"
	"time"
)

// setupProcessGroup puts the child in its own process group so a signal
// sent to -pid reaches any of its own children too.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGraceful sends SIGTERM to the process group, waits briefly for a
// clean exit, then escalates to SIGKILL.
func killGraceful(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(200 * time.Millisecond)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = cmd.Process.Kill()
}
