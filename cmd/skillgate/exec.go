package main

import (
	"fmt"
	"time"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/sandbox"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Run a command under the sandbox executor",
	Long: `Exec runs a single command under the configured sandbox mode and prints
its output. Useful for checking what a skill's commands would do before
installing it.

Examples:
  skillgate exec --mode simulate -- npm install
  skillgate exec --mode limited --timeout 10s -- ./check.sh
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if modeFlag == "" {
			modeFlag = cfg.SandboxMode
		}
		if _, err := sandbox.ParseMode(modeFlag); err != nil {
			return err
		}

		executor, err := sandbox.NewExecutor(sandbox.Config{
			Mode:           modeFlag,
			DefaultTimeout: cfg.SandboxTimeout,
			MemoryLimitMB:  cfg.MemoryLimitMB,
			ReportDir:      cfg.SandboxDir(),
		})
		if err != nil {
			return err
		}
		defer executor.Cleanup()

		result, err := executor.Execute(cmd.Context(), args[0], args[1:], sandbox.Options{
			Timeout: timeout,
		})
		if err != nil {
			return err
		}

		if result.Output != "" {
			fmt.Println(result.Output)
		}
		presenter.Info(fmt.Sprintf("Status: %s, exit code %d, took %s",
			result.Status, result.ExitCode, result.Duration.Round(time.Millisecond)))

		if result.Status != sandbox.StatusCompleted || result.ExitCode != 0 {
			return errors.Errorf("command %s: %s", result.Status, result.Error)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("mode", "", "Sandbox mode: simulate, mock, limited, real (defaults to configured mode)")
	execCmd.Flags().Duration("timeout", 0, "Wall-clock timeout for the command (defaults to configured timeout)")
	rootCmd.AddCommand(execCmd)
}
