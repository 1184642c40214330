package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/sandbox"
	"github.com/jingkaihe/skillgate/pkg/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLayout struct {
	skillsDir  string
	backupsDir string
	scratchDir string
	sandboxDir string
}

func newTestLayout(t *testing.T) testLayout {
	t.Helper()
	base := t.TempDir()
	return testLayout{
		skillsDir:  filepath.Join(base, "skills"),
		backupsDir: filepath.Join(base, "backups"),
		scratchDir: filepath.Join(base, "scratch"),
		sandboxDir: filepath.Join(base, "sandbox"),
	}
}

func (l testLayout) config(maxRisk audit.RiskLevel) Config {
	return Config{
		SkillsDir:      l.skillsDir,
		BackupsDir:     l.backupsDir,
		ScratchDir:     l.scratchDir,
		SandboxDir:     l.sandboxDir,
		MaxInstallRisk: maxRisk,
		SandboxTimeout: 5 * time.Second,
	}
}

// writeSkillSource creates a skill source directory with a manifest and
// optional extra files, returning its path.
func writeSkillSource(t *testing.T, name, version string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := "---\nname: " + name + "\nversion: " + version + "\ndescription: test skill\n---\n\n# " + name + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(manifest), 0o644))

	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

type attemptSink struct {
	mu       sync.Mutex
	attempts []*Attempt
}

func (s *attemptSink) SaveInstallAttempt(_ context.Context, attempt *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func TestInstallCleanSkill(t *testing.T) {
	layout := newTestLayout(t)
	sink := &attemptSink{}
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner(), WithSink(sink))
	require.NoError(t, err)

	source := writeSkillSource(t, "greeter", "1.0.0", map[string]string{
		"index.js": `console.log("hello");`,
	})

	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultSuccess, attempt.Result)
	assert.Equal(t, PhaseComplete, attempt.Phase)
	assert.Equal(t, "greeter", attempt.SkillName)
	assert.Equal(t, audit.RiskSafe, attempt.RiskLevel)
	assert.Empty(t, attempt.BackupPath)
	assert.False(t, attempt.FinishedAt.Before(attempt.StartedAt))

	installed, err := skill.Load(filepath.Join(layout.skillsDir, "greeter"))
	require.NoError(t, err)
	assert.Equal(t, "greeter", installed.Name)
	assert.Equal(t, "1.0.0", installed.Version)

	content, err := os.ReadFile(filepath.Join(layout.skillsDir, "greeter", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, `console.log("hello");`, string(content))

	require.Len(t, sink.attempts, 1)
	assert.Equal(t, attempt, sink.attempts[0])
}

func TestInstallRejectsDangerousSkill(t *testing.T) {
	layout := newTestLayout(t)
	sink := &attemptSink{}
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner(), WithSink(sink))
	require.NoError(t, err)

	source := writeSkillSource(t, "evil", "1.0.0", map[string]string{
		"payload.js": `eval(userInput);`,
	})

	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultRejected, attempt.Result)
	assert.Equal(t, PhaseAudit, attempt.Phase)
	assert.Equal(t, audit.RiskCritical, attempt.RiskLevel)
	assert.Equal(t, 1, attempt.FindingsCount)
	assert.Contains(t, attempt.Reason, "exceeds configured ceiling")

	// nothing may be installed
	_, err = os.Stat(filepath.Join(layout.skillsDir, "evil"))
	assert.True(t, os.IsNotExist(err))

	// rejection is persisted like any other terminal outcome
	require.Len(t, sink.attempts, 1)
	assert.Equal(t, ResultRejected, sink.attempts[0].Result)

	// the finding list is part of the attempt transcript
	var foundFinding bool
	for _, entry := range attempt.Log {
		if entry.Phase == PhaseAudit && strings.Contains(entry.Message, "dynamic code execution") {
			foundFinding = true
		}
	}
	assert.True(t, foundFinding)
}

func TestInstallAllowsRiskWithinCeiling(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskCritical), audit.NewScanner())
	require.NoError(t, err)

	source := writeSkillSource(t, "fetcher", "2.0.0", map[string]string{
		"client.js": `fetch("https://example.com");`,
	})

	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultSuccess, attempt.Result)
	assert.True(t, attempt.RiskLevel.Ordinal() > audit.RiskSafe.Ordinal())
}

func TestInstallFailsWithoutManifest(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	source := filepath.Join(t.TempDir(), "bare")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "index.js"), []byte("ok"), 0o644))

	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultFailed, attempt.Result)
	assert.Equal(t, PhaseDownload, attempt.Phase)
	assert.Contains(t, attempt.Reason, "manifest")
}

func TestInstallRejectsInvalidManifest(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	source := filepath.Join(t.TempDir(), "nameless")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "SKILL.md"),
		[]byte("---\ndescription: missing name and version\n---\n"), 0o644))

	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultRejected, attempt.Result)
	assert.Equal(t, PhaseSandboxTest, attempt.Phase)
}

func TestInstallBacksUpExistingSkill(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	// install v1, then v2 over it
	v1 := writeSkillSource(t, "upgrader", "1.0.0", map[string]string{"data.txt": "old"})
	attempt := pipe.Install(context.Background(), v1)
	require.Equal(t, ResultSuccess, attempt.Result)

	v2 := writeSkillSource(t, "upgrader", "2.0.0", map[string]string{"data.txt": "new"})
	attempt = pipe.Install(context.Background(), v2)
	require.Equal(t, ResultSuccess, attempt.Result)
	require.NotEmpty(t, attempt.BackupPath)

	// target carries v2
	installed, err := skill.Load(filepath.Join(layout.skillsDir, "upgrader"))
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", installed.Version)

	// backup carries v1, byte for byte
	backedUp, err := skill.Load(attempt.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", backedUp.Version)
	content, err := os.ReadFile(filepath.Join(attempt.BackupPath, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestRejectedUpdateLeavesExistingInstallUntouched(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	v1 := writeSkillSource(t, "stable", "1.0.0", map[string]string{"data.txt": "keep me"})
	attempt := pipe.Install(context.Background(), v1)
	require.Equal(t, ResultSuccess, attempt.Result)

	v2 := writeSkillSource(t, "stable", "2.0.0", map[string]string{"payload.js": "eval(x);"})
	attempt = pipe.Install(context.Background(), v2)
	require.Equal(t, ResultRejected, attempt.Result)

	installed, err := skill.Load(filepath.Join(layout.skillsDir, "stable"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", installed.Version)
	content, err := os.ReadFile(filepath.Join(layout.skillsDir, "stable", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(content))
}

func TestInstallRejectsOnSandboxFailure(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner(),
		WithExecutorFactory(func(reportDir string) (*sandbox.Executor, error) {
			return sandbox.NewExecutor(sandbox.Config{
				Mode: string(sandbox.ModeMock),
				MockResponses: []sandbox.MockResponse{
					{CommandGlob: "skill-check", Output: "structure check failed", ExitCode: 1},
				},
			})
		}))
	require.NoError(t, err)

	source := writeSkillSource(t, "broken", "1.0.0", nil)
	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultRejected, attempt.Result)
	assert.Equal(t, PhaseSandboxTest, attempt.Phase)
	assert.Contains(t, attempt.Reason, "sandbox check")

	_, err = os.Stat(filepath.Join(layout.skillsDir, "broken"))
	assert.True(t, os.IsNotExist(err))
}

func TestInstallRefusesRealModeExecutor(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner(),
		WithExecutorFactory(func(reportDir string) (*sandbox.Executor, error) {
			return sandbox.NewExecutor(sandbox.Config{Mode: string(sandbox.ModeReal)})
		}))
	require.NoError(t, err)

	source := writeSkillSource(t, "hot", "1.0.0", nil)
	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultRejected, attempt.Result)
	assert.Contains(t, attempt.Reason, "non-real execution mode")
}

func TestInstallRemovesSandboxDirectory(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	source := writeSkillSource(t, "tidy", "1.0.0", nil)
	attempt := pipe.Install(context.Background(), source)
	require.Equal(t, ResultSuccess, attempt.Result)

	entries, err := os.ReadDir(layout.sandboxDir)
	if err == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestVerifyDetectsNameMismatch(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	target := writeSkillSource(t, "actual", "1.0.0", nil)

	verr := pipe.verify(target, &skill.Manifest{Name: "expected"})
	require.Error(t, verr)
	var vErr *VerificationError
	require.ErrorAs(t, verr, &vErr)
	assert.Contains(t, vErr.Reason, "expected")
}

func TestVerifyDetectsMissingManifest(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	verr := pipe.verify(t.TempDir(), &skill.Manifest{Name: "ghost"})
	require.Error(t, verr)
	var vErr *VerificationError
	assert.ErrorAs(t, verr, &vErr)
}

func TestInstallRollsBackWhenVerificationFails(t *testing.T) {
	layout := newTestLayout(t)
	sink := &attemptSink{}
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner(), WithSink(sink))
	require.NoError(t, err)

	v1 := writeSkillSource(t, "fragile", "1.0.0", map[string]string{"data.txt": "v1"})
	attempt := pipe.Install(context.Background(), v1)
	require.Equal(t, ResultSuccess, attempt.Result)

	v1Manifest, err := os.ReadFile(filepath.Join(layout.skillsDir, "fragile", "SKILL.md"))
	require.NoError(t, err)

	// corrupt the installed manifest between install and verify
	pipe.afterInstall = func(target string) {
		require.NoError(t, os.WriteFile(filepath.Join(target, "SKILL.md"), []byte("not a manifest"), 0o644))
	}

	v2 := writeSkillSource(t, "fragile", "2.0.0", map[string]string{"data.txt": "v2"})
	attempt = pipe.Install(context.Background(), v2)

	assert.Equal(t, ResultRolledBack, attempt.Result)
	assert.Equal(t, PhaseVerify, attempt.Phase)
	assert.Contains(t, attempt.Reason, "verification failed")
	require.NotEmpty(t, attempt.BackupPath)

	// the target is byte-identical to the pre-install state
	content, err := os.ReadFile(filepath.Join(layout.skillsDir, "fragile", "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, string(v1Manifest), string(content))
	content, err = os.ReadFile(filepath.Join(layout.skillsDir, "fragile", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	// the rolled-back attempt is persisted like any other terminal outcome
	require.Len(t, sink.attempts, 2)
	assert.Equal(t, ResultRolledBack, sink.attempts[1].Result)
}

func TestInstallRollsBackFreshInstallOnVerificationFailure(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	pipe.afterInstall = func(target string) {
		require.NoError(t, os.Remove(filepath.Join(target, "SKILL.md")))
	}

	source := writeSkillSource(t, "vanisher", "1.0.0", nil)
	attempt := pipe.Install(context.Background(), source)

	assert.Equal(t, ResultRolledBack, attempt.Result)
	assert.Empty(t, attempt.BackupPath)

	// a fresh install that fails verification leaves nothing behind
	_, err = os.Stat(filepath.Join(layout.skillsDir, "vanisher"))
	assert.True(t, os.IsNotExist(err))
}

func TestInstallCopyFailureRestoresExistingSkill(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	target := filepath.Join(layout.skillsDir, "victim")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "original.txt"), []byte("original"), 0o644))

	// candidate whose copy fails partway: a good file copies first, then a
	// dangling symlink makes copyFile error out
	scratch := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "a_good.txt"), []byte("good"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(scratch, "missing"), filepath.Join(scratch, "z_broken")))

	attempt := &Attempt{}
	backupPath, err := pipe.install(scratch, target, "victim", attempt)
	require.Error(t, err)
	require.NotEmpty(t, backupPath)

	// the original content is back, none of the partial copy survives
	content, err := os.ReadFile(filepath.Join(target, "original.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
	_, err = os.Stat(filepath.Join(target, "a_good.txt"))
	assert.True(t, os.IsNotExist(err))

	// the backup itself is kept for the operator
	content, err = os.ReadFile(filepath.Join(backupPath, "original.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestInstallCopyFailureRemovesFreshTarget(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	scratch := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "a_good.txt"), []byte("good"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(scratch, "missing"), filepath.Join(scratch, "z_broken")))

	target := filepath.Join(layout.skillsDir, "fresh")
	attempt := &Attempt{}
	backupPath, err := pipe.install(scratch, target, "fresh", attempt)
	require.Error(t, err)
	assert.Empty(t, backupPath)

	// a fresh install that fails leaves no partial target behind
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestRollbackRestoresBackup(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	backup := writeSkillSource(t, "restoreme", "1.0.0", map[string]string{
		"data.txt":       "original",
		"nested/lib.js":  "lib();",
		"nested/util.js": "util();",
	})

	// simulate a broken install over the target
	target := filepath.Join(layout.skillsDir, "restoreme")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "garbage.bin"), []byte("broken"), 0o644))

	require.NoError(t, pipe.rollback(target, backup))

	content, err := os.ReadFile(filepath.Join(target, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
	content, err = os.ReadFile(filepath.Join(target, "nested", "lib.js"))
	require.NoError(t, err)
	assert.Equal(t, "lib();", string(content))

	_, err = os.Stat(filepath.Join(target, "garbage.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestRollbackFreshInstallRemovesTarget(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	target := filepath.Join(layout.skillsDir, "fresh")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "x.txt"), []byte("x"), 0o644))

	require.NoError(t, pipe.rollback(target, ""))

	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestNewRejectsInvalidRiskCeiling(t *testing.T) {
	_, err := New(Config{MaxInstallRisk: audit.RiskLevel("extreme")}, audit.NewScanner())
	assert.Error(t, err)
}

func TestConcurrentInstallsOfSameSkill(t *testing.T) {
	layout := newTestLayout(t)
	pipe, err := New(layout.config(audit.RiskMedium), audit.NewScanner())
	require.NoError(t, err)

	source := writeSkillSource(t, "shared", "1.0.0", map[string]string{"data.txt": "d"})

	var wg sync.WaitGroup
	results := make([]*Attempt, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = pipe.Install(context.Background(), source)
		}(i)
	}
	wg.Wait()

	for _, attempt := range results {
		assert.Equal(t, ResultSuccess, attempt.Result)
	}

	installed, err := skill.Load(filepath.Join(layout.skillsDir, "shared"))
	require.NoError(t, err)
	assert.Equal(t, "shared", installed.Name)
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"https://github.com/user/my-skill", "my-skill"},
		{"https://github.com/user/my-skill.git", "my-skill"},
		{"https://github.com/user/my-skill/", "my-skill"},
		{"/local/path/to/cool-skill", "cool-skill"},
		{"plain-name", "plain-name"},
		{"", "skill"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveName(tt.source), "source %q", tt.source)
	}
}
