package sandbox

import (
	"time"

	"github.com/jingkaihe/skillgate/pkg/osutil"
)

// HandleStatus is the lifecycle state of a tracked child process
type HandleStatus string

// Handle lifecycle states. A handle transitions from running to exactly one
// terminal state and is never mutated afterwards.
const (
	HandleRunning   HandleStatus = "running"
	HandleCompleted HandleStatus = "completed"
	HandleTimedOut  HandleStatus = "timed_out"
	HandleError     HandleStatus = "error"
)

// Handle tracks the lifecycle of one spawned process
type Handle struct {
	PID       int           `json:"pid"`
	StartTime time.Time     `json:"startTime"`
	Status    HandleStatus  `json:"status"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
}

// finalize transitions the handle to a terminal state. The first transition
// wins; later calls are no-ops.
func (h *Handle) finalize(status HandleStatus, exitCode int) {
	if h.Status != HandleRunning {
		return
	}
	h.Status = status
	h.ExitCode = exitCode
	h.Duration = time.Since(h.StartTime)
}

// Alive reports whether the handle's process is still running according to
// the OS.
func (h *Handle) Alive() bool {
	return h.Status == HandleRunning && osutil.IsProcessAlive(h.PID)
}
