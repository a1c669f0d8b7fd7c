//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// isolateProcessGroup starts cmd as the leader of a new process group and
// makes cancellation kill the whole group, not just the direct child.
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
