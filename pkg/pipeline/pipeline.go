package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/sandbox"
	"github.com/jingkaihe/skillgate/pkg/skill"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the directory layout and policy for a pipeline instance.
// Every pipeline gets its own explicit configuration so multiple independent
// instances never share state.
type Config struct {
	// SkillsDir is the install root; each skill lives at SkillsDir/<name>
	SkillsDir string
	// BackupsDir receives timestamped backups of overwritten skills
	BackupsDir string
	// ScratchDir receives one uniquely named download directory per attempt
	ScratchDir string
	// SandboxDir receives one disposable test directory per attempt
	SandboxDir string
	// MaxInstallRisk is the highest audit risk level that may be installed
	MaxInstallRisk audit.RiskLevel
	// SandboxTimeout bounds each sandbox execution during SandboxTest
	SandboxTimeout time.Duration
}

// ExecutorFactory builds the sandbox executor used during SandboxTest. The
// pipeline creates one executor per attempt and cleans it up afterwards.
type ExecutorFactory func(reportDir string) (*sandbox.Executor, error)

// Pipeline runs gated installations. Safe for concurrent use; installs of
// the same skill name are serialized.
type Pipeline struct {
	cfg         Config
	scanner     *audit.Scanner
	fetcher     Fetcher
	sink        Sink
	newExecutor ExecutorFactory
	locks       *namedLocks

	// afterInstall, when set, runs between the install and verify phases
	// while the per-name lock is held. Tests use it to tamper with the
	// installed tree.
	afterInstall func(target string)
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithFetcher replaces the default source fetcher
func WithFetcher(f Fetcher) PipelineOption {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithSink sets the sink that persists attempts at terminal outcomes
func WithSink(s Sink) PipelineOption {
	return func(p *Pipeline) {
		p.sink = s
	}
}

// WithExecutorFactory replaces the default simulate-mode executor factory
func WithExecutorFactory(f ExecutorFactory) PipelineOption {
	return func(p *Pipeline) {
		p.newExecutor = f
	}
}

// New creates a pipeline. The configured risk ceiling is validated
// immediately; an empty ceiling defaults to medium.
func New(cfg Config, scanner *audit.Scanner, opts ...PipelineOption) (*Pipeline, error) {
	if cfg.MaxInstallRisk == "" {
		cfg.MaxInstallRisk = audit.RiskMedium
	}
	if cfg.MaxInstallRisk.Ordinal() == -1 {
		return nil, errors.Errorf("invalid max install risk %q", cfg.MaxInstallRisk)
	}
	if cfg.SandboxTimeout <= 0 {
		cfg.SandboxTimeout = sandbox.DefaultTimeout
	}

	p := &Pipeline{
		cfg:     cfg,
		scanner: scanner,
		fetcher: NewSourceFetcher(),
		locks:   newNamedLocks(),
	}
	p.newExecutor = func(reportDir string) (*sandbox.Executor, error) {
		return sandbox.NewExecutor(sandbox.Config{
			Mode:           string(sandbox.ModeSimulate),
			DefaultTimeout: cfg.SandboxTimeout,
			ReportDir:      reportDir,
		})
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Install runs the full pipeline for one candidate source. It always returns
// a terminal attempt; no error escapes the pipeline boundary. Operational
// errors end in result "failed", policy verdicts in "rejected", and a
// verification failure after a successful install in "rolled_back".
func (p *Pipeline) Install(ctx context.Context, source string) *Attempt {
	attempt := &Attempt{
		ID:        uuid.New().String(),
		SourceURL: source,
		Phase:     PhaseDownload,
		StartedAt: time.Now(),
	}
	ctx = logger.WithLogger(ctx, logger.G(ctx).WithField("attempt", attempt.ID))

	_ = telemetry.WithSpan(ctx, "pipeline.install", func(ctx context.Context) error {
		p.runPhases(ctx, source, attempt)
		return nil
	}, attribute.String("source", source))

	attempt.FinishedAt = time.Now()
	p.persist(ctx, attempt)
	return attempt
}

func (p *Pipeline) runPhases(ctx context.Context, source string, attempt *Attempt) {
	log := logger.G(ctx)
	attempt.SkillName = deriveName(source)

	// Download
	scratchDir, err := p.download(ctx, source, attempt)
	if err != nil {
		p.fail(attempt, PhaseDownload, err)
		return
	}
	defer os.RemoveAll(scratchDir)

	// Audit
	attempt.Phase = PhaseAudit
	report, err := p.scanner.Audit(ctx, attempt.SkillName, scratchDir, source)
	if err != nil {
		p.fail(attempt, PhaseAudit, err)
		return
	}
	attempt.AuditReport = report
	attempt.RiskLevel = report.RiskLevel
	attempt.FindingsCount = len(report.Findings)
	attempt.logf(PhaseAudit, "audit complete: %d findings, score %d, level %s",
		len(report.Findings), report.RiskScore, report.RiskLevel)

	if report.RiskLevel.Ordinal() > p.cfg.MaxInstallRisk.Ordinal() {
		p.reject(ctx, attempt, &PolicyRejectionError{
			Reason: fmt.Sprintf("risk level %s exceeds configured ceiling %s", report.RiskLevel, p.cfg.MaxInstallRisk),
			Report: report,
		})
		return
	}

	// SandboxTest
	attempt.Phase = PhaseSandboxTest
	manifest, err := p.sandboxTest(ctx, scratchDir, attempt)
	if err != nil {
		p.reject(ctx, attempt, &PolicyRejectionError{Reason: err.Error(), Report: report})
		return
	}
	attempt.SkillName = manifest.Name

	// Installs of the same skill must not interleave backup/copy steps
	unlock := p.locks.acquire(manifest.Name)
	defer unlock()

	// Install
	attempt.Phase = PhaseInstall
	target := filepath.Join(p.cfg.SkillsDir, manifest.Name)
	backupPath, err := p.install(scratchDir, target, manifest.Name, attempt)
	if err != nil {
		p.fail(attempt, PhaseInstall, err)
		return
	}

	if p.afterInstall != nil {
		p.afterInstall(target)
	}

	// Verify
	attempt.Phase = PhaseVerify
	if verr := p.verify(target, manifest); verr != nil {
		attempt.logf(PhaseVerify, "verification failed: %v", verr)
		log.WithError(verr).Warn("verification failed, rolling back")
		if rbErr := p.rollback(target, backupPath); rbErr != nil {
			p.fail(attempt, PhaseVerify, errors.Wrap(rbErr, "rollback failed after verification failure"))
			return
		}
		attempt.Result = ResultRolledBack
		attempt.Reason = verr.Error()
		attempt.logf(PhaseVerify, "rolled back to pre-install state")
		return
	}

	attempt.Phase = PhaseComplete
	attempt.Result = ResultSuccess
	attempt.logf(PhaseComplete, "installed %s to %s", manifest.Name, target)
	log.WithField("skill", manifest.Name).Info("installation complete")
}

// download fetches the candidate into a uniquely named scratch directory and
// checks for the manifest marker. Failures here are operational, never policy.
func (p *Pipeline) download(ctx context.Context, source string, attempt *Attempt) (string, error) {
	scratchDir := filepath.Join(p.cfg.ScratchDir,
		fmt.Sprintf("%s-%d", attempt.SkillName, time.Now().UnixNano()))
	if err := os.MkdirAll(filepath.Dir(scratchDir), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create scratch directory")
	}

	if err := p.fetcher.Fetch(ctx, source, scratchDir); err != nil {
		return "", errors.Wrap(err, "failed to fetch source")
	}
	attempt.logf(PhaseDownload, "fetched %s to %s", source, scratchDir)

	if !skill.HasManifest(scratchDir) {
		return "", errors.Errorf("no %s manifest at source root", skill.ManifestFileName)
	}
	attempt.logf(PhaseDownload, "manifest marker present")
	return scratchDir, nil
}

// sandboxTest copies the candidate into a disposable directory and runs
// structural sanity checks through the sandbox executor. The test directory
// is always removed, whatever the outcome. Any error here is a policy
// rejection, not an operational failure.
func (p *Pipeline) sandboxTest(ctx context.Context, scratchDir string, attempt *Attempt) (*skill.Manifest, error) {
	testDir := filepath.Join(p.cfg.SandboxDir, uuid.New().String())
	defer os.RemoveAll(testDir)

	if err := copyDir(scratchDir, testDir); err != nil {
		return nil, errors.Wrap(err, "failed to stage sandbox copy")
	}

	manifest, err := skill.Load(testDir)
	if err != nil {
		return nil, errors.Wrap(err, "manifest does not parse")
	}
	attempt.logf(PhaseSandboxTest, "manifest ok: %s@%s", manifest.Name, manifest.Version)
	attempt.logf(PhaseSandboxTest, "declared permissions: %s", strings.Join(manifest.Permissions, ", "))

	executor, err := p.newExecutor(filepath.Join(testDir, ".reports"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sandbox executor")
	}
	defer executor.Cleanup()

	if executor.Mode() == sandbox.ModeReal {
		return nil, errors.New("sandbox test requires a non-real execution mode")
	}

	result, err := executor.Execute(ctx, "skill-check", []string{skill.ManifestFileName},
		sandbox.Options{Timeout: p.cfg.SandboxTimeout, Dir: testDir})
	if err != nil {
		return nil, errors.Wrap(err, "sandbox execution failed")
	}
	if result.Status != sandbox.StatusCompleted {
		return nil, errors.Errorf("sandbox check %s: %s", result.Status, result.Error)
	}
	attempt.logf(PhaseSandboxTest, "sandbox check %s (%s mode)", result.Status, result.Mode)

	return manifest, nil
}

// install backs up any existing target before copying the candidate in. The
// target is never overwritten in place, and a failure after the target has
// been touched puts the pre-install state back before the error is reported:
// the target ends up holding either the full candidate or the original
// content, never a mix.
func (p *Pipeline) install(scratchDir, target, name string, attempt *Attempt) (string, error) {
	var backupPath string
	if _, err := os.Stat(target); err == nil {
		backupPath = filepath.Join(p.cfg.BackupsDir, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
		if err := copyDir(target, backupPath); err != nil {
			return "", errors.Wrap(err, "failed to back up existing skill")
		}
		attempt.BackupPath = backupPath
		attempt.logf(PhaseInstall, "backed up existing skill to %s", backupPath)

		if err := os.RemoveAll(target); err != nil {
			return backupPath, p.restoreAfter(target, backupPath, attempt,
				errors.Wrap(err, "failed to clear install target"))
		}
	}

	if err := copyDir(scratchDir, target); err != nil {
		return backupPath, p.restoreAfter(target, backupPath, attempt,
			errors.Wrap(err, "failed to copy skill to target"))
	}
	attempt.logf(PhaseInstall, "copied candidate to %s", target)
	return backupPath, nil
}

// restoreAfter returns installErr after putting the target back into its
// pre-install state: the backup content, or nothing for a fresh install.
func (p *Pipeline) restoreAfter(target, backupPath string, attempt *Attempt, installErr error) error {
	if rbErr := p.rollback(target, backupPath); rbErr != nil {
		return errors.Wrapf(installErr, "restore also failed: %v", rbErr)
	}
	attempt.logf(PhaseInstall, "restored pre-install state after install error")
	return installErr
}

// verify confirms the installed artifact: the manifest must exist, parse,
// and name the skill that was installed.
func (p *Pipeline) verify(target string, manifest *skill.Manifest) error {
	installed, err := skill.Load(target)
	if err != nil {
		return &VerificationError{Reason: "installed manifest does not parse", Cause: err}
	}
	if installed.Name != manifest.Name {
		return &VerificationError{
			Reason: fmt.Sprintf("installed manifest names %q, expected %q", installed.Name, manifest.Name),
		}
	}
	return nil
}

// rollback restores the pre-install state: the backup content byte for byte,
// or an empty target when the install was fresh.
func (p *Pipeline) rollback(target, backupPath string) error {
	if err := os.RemoveAll(target); err != nil {
		return errors.Wrap(err, "failed to remove broken install")
	}
	if backupPath == "" {
		return nil
	}
	if err := copyDir(backupPath, target); err != nil {
		return errors.Wrap(err, "failed to restore backup")
	}
	return nil
}

func (p *Pipeline) reject(ctx context.Context, attempt *Attempt, rejection *PolicyRejectionError) {
	attempt.Result = ResultRejected
	attempt.Reason = rejection.Reason
	attempt.logf(attempt.Phase, "rejected: %s", rejection.Reason)

	log := logger.G(ctx)
	if rejection.Report != nil {
		for _, f := range rejection.Report.Findings {
			attempt.logf(attempt.Phase, "finding [%s] %s in %s", f.Severity, f.Name, f.File)
		}
		log = log.WithField("findings", len(rejection.Report.Findings))
	}
	log.WithField("reason", rejection.Reason).Info("installation rejected by policy")
}

func (p *Pipeline) fail(attempt *Attempt, phase Phase, err error) {
	attempt.Phase = phase
	attempt.Result = ResultFailed
	attempt.Reason = err.Error()
	attempt.logf(phase, "failed: %v", err)
}

func (p *Pipeline) persist(ctx context.Context, attempt *Attempt) {
	if p.sink == nil {
		return
	}
	if err := p.sink.SaveInstallAttempt(ctx, attempt); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to persist install attempt")
	}
}

// deriveName guesses a working name from the source URL or path; the
// manifest's declared name replaces it once parsed.
func deriveName(source string) string {
	name := strings.TrimSuffix(source, ".git")
	name = strings.TrimRight(name, "/")
	if idx := strings.LastIndexAny(name, "/\\"); idx != -1 {
		name = name[idx+1:]
	}
	if name == "" {
		return "skill"
	}
	return name
}
