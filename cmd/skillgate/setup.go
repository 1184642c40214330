package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/pipeline"
	"github.com/jingkaihe/skillgate/pkg/reports"
	"github.com/jingkaihe/skillgate/pkg/sandbox"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// loadConfig decodes and validates the effective configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	if cfg.BasePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get home directory")
		}
		cfg.BasePath = filepath.Join(homeDir, ".skillgate")
	}

	return cfg, nil
}

// openStore creates the configured report store
func openStore(ctx context.Context, cfg *config.Config) (reports.Store, error) {
	return reports.NewStore(ctx, reports.StoreConfig{
		Backend:  cfg.Store,
		BasePath: cfg.ReportsDir(),
		DBPath:   cfg.DBPath(),
	})
}

// buildScanner creates a scanner that persists its reports to the store
func buildScanner(store reports.Store) *audit.Scanner {
	return audit.NewScanner(audit.WithSink(store))
}

// buildPipeline wires the full installation pipeline
func buildPipeline(cfg *config.Config, scanner *audit.Scanner, store reports.Store) (*pipeline.Pipeline, error) {
	return pipeline.New(
		pipeline.Config{
			SkillsDir:      cfg.SkillsDir(),
			BackupsDir:     cfg.BackupsDir(),
			ScratchDir:     cfg.ScratchDir(),
			SandboxDir:     cfg.SandboxDir(),
			MaxInstallRisk: cfg.MaxRisk(),
			SandboxTimeout: cfg.SandboxTimeout,
		},
		scanner,
		pipeline.WithSink(store),
		pipeline.WithExecutorFactory(func(reportDir string) (*sandbox.Executor, error) {
			mode := cfg.SandboxMode
			// the pipeline's structural checks must never run candidate code
			if mode == string(sandbox.ModeReal) || mode == string(sandbox.ModeLimited) {
				mode = string(sandbox.ModeSimulate)
			}
			return sandbox.NewExecutor(sandbox.Config{
				Mode:           mode,
				DefaultTimeout: cfg.SandboxTimeout,
				MemoryLimitMB:  cfg.MemoryLimitMB,
				ReportDir:      reportDir,
			})
		}),
	)
}
