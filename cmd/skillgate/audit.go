package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <name> <path> [sourceUrl]",
	Short: "Statically audit a skill tree for dangerous constructs",
	Long: `Audit walks a skill source tree, matches its content against the risk rule
table, and prints a scored report.

The command exits 0 if the risk level stays below high, 1 otherwise.

Examples:
  skillgate audit my-skill ./candidate
  skillgate audit my-skill ./candidate https://github.com/user/my-skill
`,
	Args: cobra.RangeArgs(2, 3),
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

		name, path := args[0], args[1]
		sourceURL := ""
		if len(args) == 3 {
			sourceURL = args[2]
		}

		scanner := buildScanner(store)
		report, err := scanner.Audit(ctx, name, path, sourceURL)
		if err != nil {
			return err
		}

		printReport(report)

		if report.RiskLevel.Ordinal() >= audit.RiskHigh.Ordinal() {
			return errors.Errorf("risk level %s is at or above high", report.RiskLevel)
		}
		return nil
	},
}

func printReport(report *audit.Report) {
	presenter.Section(fmt.Sprintf("Audit: %s", report.SkillName))
	presenter.Info(fmt.Sprintf("Scanned %d files", len(report.FilesScanned)))

	if len(report.Findings) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tFINDING\tFILE")
		fmt.Fprintln(tw, "--------\t-------\t----")
		for _, f := range report.Findings {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Severity, f.Name, f.File)
		}
		tw.Flush()
	}

	presenter.Separator()
	summary := fmt.Sprintf("Risk score %d, level %s: %s", report.RiskScore, report.RiskLevel, report.Recommendation)
	switch report.RiskLevel {
	case audit.RiskSafe, audit.RiskLow:
		presenter.Success(summary)
	case audit.RiskMedium:
		presenter.Warning(summary)
	default:
		presenter.Error(errors.New(summary), "audit verdict")
	}
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
