//go:build !windows

package lockfile

import (
	"errors"
	"os"
	"syscall"
)

// isProcessRunning probes pid with signal 0
func isProcessRunning(pid int) (bool, string) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, ""
	case errors.Is(err, syscall.EPERM):
		// Exists but belongs to someone else
		return true, ""
	case errors.Is(err, os.ErrProcessDone):
		return false, "process has finished"
	default:
		return false, "process is not running"
	}
}
