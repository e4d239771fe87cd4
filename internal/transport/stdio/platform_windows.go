//go:build windows

package stdio

import "os/exec"

// setupProcessGroup is a no-op placeholder on Windows; Go's exec package
// does not expose process-group creation flags portably here, and the
// child is reaped directly via Process.Kill in killGraceful.
func setupProcessGroup(cmd *exec.Cmd) {}

// killGraceful kills the process directly. Windows has no POSIX signal
// equivalent for a graceful SIGTERM, so this module does not attempt the
// two-phase shutdown used on Unix.
func killGraceful(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
