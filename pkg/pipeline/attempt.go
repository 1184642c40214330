// Package pipeline orchestrates the gated installation of third-party skills:
// Download, Audit, SandboxTest, Install, Verify. An attempt ends in exactly
// one of four terminal results. Reject is reserved for audit/sandbox policy
// decisions; Fail is reserved for operational errors, so an operator can tell
// "blocked by policy" apart from "broken tooling".
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jingkaihe/skillgate/pkg/audit"
)

// Phase identifies a pipeline stage
type Phase string

// Pipeline phases in execution order
const (
	PhaseDownload    Phase = "download"
	PhaseAudit       Phase = "audit"
	PhaseSandboxTest Phase = "sandbox_test"
	PhaseInstall     Phase = "install"
	PhaseVerify      Phase = "verify"
	PhaseComplete    Phase = "complete"
)

// Result is a terminal outcome of an installation attempt
type Result string

// Terminal results
const (
	ResultSuccess    Result = "success"
	ResultFailed     Result = "failed"
	ResultRejected   Result = "rejected"
	ResultRolledBack Result = "rolled_back"
)

// LogEntry is one line of an attempt's phase transcript
type LogEntry struct {
	Time    time.Time `json:"time"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
}

// Attempt records one installation attempt from download to terminal outcome.
// It is mutated as phases progress and persisted at every terminal outcome.
type Attempt struct {
	ID            string          `json:"id"`
	SourceURL     string          `json:"sourceUrl"`
	SkillName     string          `json:"skillName"`
	Phase         Phase           `json:"phase"`
	Result        Result          `json:"result"`
	Reason        string          `json:"reason,omitempty"`
	RiskLevel     audit.RiskLevel `json:"riskLevel,omitempty"`
	FindingsCount int             `json:"findingsCount"`
	AuditReport   *audit.Report   `json:"auditReport,omitempty"`
	BackupPath    string          `json:"backupPath,omitempty"`
	Log           []LogEntry      `json:"log"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    time.Time       `json:"finishedAt"`
}

func (a *Attempt) logf(phase Phase, format string, args ...interface{}) {
	a.Log = append(a.Log, LogEntry{
		Time:    time.Now(),
		Phase:   phase,
		Message: fmt.Sprintf(format, args...),
	})
}

// Sink persists installation attempts at terminal outcomes
type Sink interface {
	SaveInstallAttempt(ctx context.Context, attempt *Attempt) error
}
