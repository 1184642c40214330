package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/spf13/cobra"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Show audit report and installation attempt history",
	Long: `Reports lists the stored audit reports, oldest first. Pass --installs
to list installation attempts instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showInstalls, _ := cmd.Flags().GetBool("installs")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if showInstalls {
			attempts, err := store.ListInstallAttempts(ctx)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				presenter.Info("No installation attempts recorded")
				return nil
			}
			fmt.Fprintln(w, "TIME\tSKILL\tRESULT\tRISK\tREASON")
			for _, a := range attempts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.StartedAt.Format("2006-01-02 15:04:05"),
					a.SkillName, a.Result, a.RiskLevel, a.Reason)
			}
			return w.Flush()
		}

		audits, err := store.ListAuditReports(ctx)
		if err != nil {
			return err
		}
		if len(audits) == 0 {
			presenter.Info("No audit reports recorded")
			return nil
		}
		fmt.Fprintln(w, "TIME\tSKILL\tFINDINGS\tSCORE\tLEVEL")
		for _, r := range audits {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				r.Timestamp.Format("2006-01-02 15:04:05"),
				r.SkillName, len(r.Findings), r.RiskScore, r.RiskLevel)
		}
		return w.Flush()
	},
}

func init() {
	reportsCmd.Flags().Bool("installs", false, "List installation attempts instead of audit reports")
	rootCmd.AddCommand(reportsCmd)
}
