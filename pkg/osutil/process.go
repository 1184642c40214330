// Package osutil provides OS-specific process utilities: liveness checks and
// process-group termination for child processes spawned by the sandbox.
package osutil

import (
	"github.com/shirou/gopsutil/v4/process"
)

// IsProcessAlive checks if a process with the given PID is still running
func IsProcessAlive(pid int) bool {
	found, _ := process.PidExists(int32(pid))
	return found
}
