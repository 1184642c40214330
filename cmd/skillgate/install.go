package main

import (
	"fmt"

	"github.com/jingkaihe/skillgate/pkg/pipeline"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install <sourceUrl|path>",
	Short: "Audit, sandbox-test, and install a skill",
	Long: `Install runs the full gated pipeline for one candidate source:
download, audit, sandbox test, install, verify. Any existing skill of the
same name is backed up first and restored if verification fails.

The command exits 0 on success, 1 when the candidate is rejected by policy,
fails operationally, or is rolled back.

Examples:
  skillgate install https://github.com/user/my-skill
  skillgate install ./local-skill-dir
  skillgate install https://github.com/user/my-skill --max-install-risk low
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			return err
		}
		defer shutdown(ctx)

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		pipe, err := buildPipeline(cfg, buildScanner(store), store)
		if err != nil {
			return err
		}

		source := args[0]
		presenter.Info(fmt.Sprintf("Installing skill from %s...", source))

		attempt := pipe.Install(ctx, source)
		printAttempt(attempt)

		if attempt.Result != pipeline.ResultSuccess {
			return errors.Errorf("installation %s: %s", attempt.Result, attempt.Reason)
		}
		presenter.Success(fmt.Sprintf("Installed skill '%s'", attempt.SkillName))
		return nil
	},
}

func printAttempt(attempt *pipeline.Attempt) {
	presenter.Section(fmt.Sprintf("Installation attempt %s", attempt.ID))
	for _, entry := range attempt.Log {
		presenter.Info(fmt.Sprintf("[%s] %s", entry.Phase, entry.Message))
	}
	presenter.Separator()
	if attempt.AuditReport != nil {
		presenter.Info(fmt.Sprintf("Audit: %d findings, risk level %s",
			attempt.FindingsCount, attempt.RiskLevel))
	}
	presenter.Info(fmt.Sprintf("Result: %s", attempt.Result))
}

func init() {
	rootCmd.AddCommand(installCmd)
}
