//go:build windows

package tactile

import (
	"fmt"
	"os/exec"
	"syscall"
)

// getProcessResourceUsage extracts CPU times on Windows.
func getProcessResourceUsage(cmd *exec.Cmd) *ResourceUsage {
	if cmd.ProcessState == nil {
		return nil
	}
	return &ResourceUsage{
		UserTimeMs:   cmd.ProcessState.UserTime().Milliseconds(),
		SystemTimeMs: cmd.ProcessState.SystemTime().Milliseconds(),
	}
}

// setupProcessGroup hides the console window of the child.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// killProcessGroup kills the process tree with taskkill.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	killCmd := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid))
	killCmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := killCmd.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
