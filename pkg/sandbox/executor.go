// Package sandbox provides command execution under pluggable modes for
// testing untrusted skill code. The sandbox is a disposable directory plus an
// execution strategy, not a kernel-enforced boundary: simulate and mock modes
// never spawn a process, limited mode enforces a wall-clock timeout with an
// advisory memory ceiling, and real mode runs the command to completion.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/osutil"
	"github.com/pkg/errors"
)

// Mode selects the execution strategy
type Mode string

// Execution modes
const (
	ModeSimulate Mode = "simulate"
	ModeMock     Mode = "mock"
	ModeLimited  Mode = "limited"
	ModeReal     Mode = "real"
)

// ParseMode parses a configured mode string. An unrecognized mode is a
// configuration error.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimulate, ModeMock, ModeLimited, ModeReal:
		return Mode(s), nil
	default:
		return "", errors.Errorf("invalid sandbox mode %q: expected one of simulate, mock, limited, real", s)
	}
}

// Status is the final state of one execution
type Status string

// Execution statuses. All modes resolve to one of these so callers stay
// mode-agnostic.
const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusError     Status = "error"
)

// DefaultTimeout bounds real and limited executions unless overridden per call
const DefaultTimeout = 30 * time.Second

// historyLimit caps the retained execution history
const historyLimit = 100

// ExecutionResult is the outcome of one Execute call, finalized when its
// status is set. The shape is identical across all modes.
type ExecutionResult struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	Mode      Mode          `json:"mode"`
	Status    Status        `json:"status"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	ExitCode  int           `json:"exitCode"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
}

// Options tune a single execution
type Options struct {
	// Timeout overrides the executor's default wall-clock timeout
	Timeout time.Duration
	// Dir is the working directory for the command
	Dir string
	// Env is appended to the inherited environment
	Env []string
}

// MockResponse is a canned response for mock mode, keyed by a glob over the
// command name.
type MockResponse struct {
	CommandGlob string
	Output      string
	ExitCode    int
}

// Config configures an Executor
type Config struct {
	// Mode selects the execution strategy for all Execute calls
	Mode string
	// DefaultTimeout bounds real/limited executions (DefaultTimeout if zero)
	DefaultTimeout time.Duration
	// MemoryLimitMB is the advisory memory ceiling declared to limited-mode
	// children. It is not enforced.
	MemoryLimitMB int
	// ReportDir is where simulate mode records its would-run reports
	ReportDir string
	// MockResponses are the canned responses for mock mode
	MockResponses []MockResponse
}

type compiledMock struct {
	g    glob.Glob
	resp MockResponse
}

// Executor runs commands under the configured mode and tracks every spawned
// process. Behavior after Cleanup is undefined: the executor is meant to be
// discarded along with its sandbox directory.
type Executor struct {
	mode           Mode
	defaultTimeout time.Duration
	memoryLimitMB  int
	reportDir      string
	mocks          []compiledMock

	mu        sync.Mutex
	handles   map[int]*Handle
	history   []*ExecutionResult
	snapshots map[snapshotKey]*FileSnapshot
	cleaned   bool
}

// NewExecutor creates an executor for the configured mode. An unrecognized
// mode or an invalid mock glob is rejected immediately.
func NewExecutor(cfg Config) (*Executor, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	e := &Executor{
		mode:           mode,
		defaultTimeout: timeout,
		memoryLimitMB:  cfg.MemoryLimitMB,
		reportDir:      cfg.ReportDir,
		handles:        make(map[int]*Handle),
		snapshots:      make(map[snapshotKey]*FileSnapshot),
	}

	for _, resp := range cfg.MockResponses {
		g, err := glob.Compile(resp.CommandGlob)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid mock command glob %q", resp.CommandGlob)
		}
		e.mocks = append(e.mocks, compiledMock{g: g, resp: resp})
	}

	return e, nil
}

// Mode returns the configured execution mode
func (e *Executor) Mode() Mode {
	return e.mode
}

// Execute runs command under the configured mode and returns the finalized
// result. Operational problems (spawn failure, nonzero exit) are reported in
// the result, not as an error; an error is returned only for misuse, such as
// executing after Cleanup.
func (e *Executor) Execute(ctx context.Context, command string, args []string, opts Options) (*ExecutionResult, error) {
	e.mu.Lock()
	if e.cleaned {
		e.mu.Unlock()
		return nil, errors.New("executor has been cleaned up")
	}
	e.mu.Unlock()

	result := &ExecutionResult{
		ID:        uuid.New().String(),
		Command:   command,
		Args:      args,
		Mode:      e.mode,
		StartTime: time.Now(),
	}

	switch e.mode {
	case ModeSimulate:
		e.simulate(ctx, result)
	case ModeMock:
		e.mock(result)
	case ModeLimited, ModeReal:
		e.run(ctx, result, opts)
	}

	result.Duration = time.Since(result.StartTime)
	e.record(result)
	return result, nil
}

// simulate returns a synthetic "would run" result. No process is spawned and
// nothing outside the executor's own report directory is touched.
func (e *Executor) simulate(ctx context.Context, result *ExecutionResult) {
	result.Status = StatusCompleted
	result.ExitCode = 0
	result.Output = fmt.Sprintf("[simulate] would execute: %s", commandLine(result.Command, result.Args))

	if e.reportDir == "" {
		return
	}
	if err := e.writeSimulationRecord(result); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to write simulation record")
	}
}

func (e *Executor) writeSimulationRecord(result *ExecutionResult) error {
	if err := os.MkdirAll(e.reportDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create report directory")
	}

	record, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal simulation record")
	}

	f, err := os.OpenFile(filepath.Join(e.reportDir, "simulated.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open simulation log")
	}
	defer f.Close()

	_, err = f.Write(append(record, '\n'))
	return err
}

// mock returns the canned response for the command, for deterministic
// repeated testing.
func (e *Executor) mock(result *ExecutionResult) {
	for _, m := range e.mocks {
		if m.g.Match(result.Command) {
			result.Status = StatusCompleted
			result.ExitCode = m.resp.ExitCode
			result.Output = m.resp.Output
			if m.resp.ExitCode != 0 {
				result.Status = StatusError
				result.Error = fmt.Sprintf("command exited with status %d", m.resp.ExitCode)
			}
			return
		}
	}

	result.Status = StatusCompleted
	result.ExitCode = 0
	result.Output = fmt.Sprintf("[mock] %s", commandLine(result.Command, result.Args))
}

// run spawns the process for real. Natural completion and the forced-timeout
// kill race; whichever resolves first determines the final status.
func (e *Executor) run(ctx context.Context, result *ExecutionResult, opts Options) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	cmd := exec.Command(result.Command, result.Args...)
	cmd.Dir = opts.Dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	env := append(os.Environ(), opts.Env...)
	if e.mode == ModeLimited && e.memoryLimitMB > 0 {
		env = append(env, fmt.Sprintf("SKILLGATE_MEMORY_LIMIT_MB=%d", e.memoryLimitMB))
	}
	cmd.Env = env

	osutil.SetProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		result.Status = StatusError
		result.ExitCode = -1
		result.Error = errors.Wrap(err, "failed to start command").Error()
		return
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		StartTime: result.StartTime,
		Status:    HandleRunning,
		ExitCode:  -1,
	}
	e.track(handle)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		e.finalizeRun(result, handle, err, output.String())
	case <-timer.C:
		e.killAndFinalize(result, handle, StatusTimedOut,
			fmt.Sprintf("command timed out after %s", timeout), waitCh, &output)
	case <-ctx.Done():
		e.killAndFinalize(result, handle, StatusError,
			errors.Wrap(ctx.Err(), "execution canceled").Error(), waitCh, &output)
	}
}

func (e *Executor) finalizeRun(result *ExecutionResult, handle *Handle, waitErr error, output string) {
	result.Output = output

	if waitErr == nil {
		result.Status = StatusCompleted
		result.ExitCode = 0
		e.finalizeHandle(handle, HandleCompleted, 0)
		return
	}

	exitCode := -1
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	result.Status = StatusError
	result.ExitCode = exitCode
	result.Error = fmt.Sprintf("command exited with status %d", exitCode)
	e.finalizeHandle(handle, HandleError, exitCode)
}

// killAndFinalize kills the process group and waits for cmd.Wait to return
// before touching the output buffer: exec.Cmd's pipe copiers write to it
// until Wait completes.
func (e *Executor) killAndFinalize(result *ExecutionResult, handle *Handle, status Status, reason string, waitCh chan error, output *bytes.Buffer) {
	_ = osutil.KillProcessGroup(handle.PID)
	<-waitCh

	result.Status = status
	result.ExitCode = -1
	result.Error = reason
	result.Output = output.String()

	handleStatus := HandleError
	if status == StatusTimedOut {
		handleStatus = HandleTimedOut
	}
	e.finalizeHandle(handle, handleStatus, -1)
}

func (e *Executor) track(handle *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[handle.PID] = handle
}

func (e *Executor) finalizeHandle(handle *Handle, status HandleStatus, exitCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle.finalize(status, exitCode)
}

func (e *Executor) record(result *ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, result)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// Handle returns the tracked handle for pid, if any
func (e *Executor) Handle(pid int) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[pid]
	return h, ok
}

// Handles returns a snapshot of all tracked handles
func (e *Executor) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	return handles
}

// RecentExecutions returns the retained execution history, oldest first.
// The history is capped at the last 100 executions.
func (e *Executor) RecentExecutions() []*ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := make([]*ExecutionResult, len(e.history))
	copy(history, e.history)
	return history
}

// HealthCheck reports liveness for every tracked handle, keyed by PID
func (e *Executor) HealthCheck() map[int]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	health := make(map[int]bool, len(e.handles))
	for pid, h := range e.handles {
		health[pid] = h.Alive()
	}
	return health
}

// Cleanup terminates every handle still running so iterative testing never
// orphans processes. The executor must not be used afterwards.
func (e *Executor) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var merr *multierror.Error
	for pid, h := range e.handles {
		if h.Status != HandleRunning {
			continue
		}
		if err := osutil.KillProcessGroup(pid); err != nil && osutil.IsProcessAlive(pid) {
			merr = multierror.Append(merr, errors.Wrapf(err, "failed to kill process %d", pid))
			continue
		}
		h.finalize(HandleError, -1)
	}

	e.cleaned = true
	return merr.ErrorOrNil()
}

func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}
