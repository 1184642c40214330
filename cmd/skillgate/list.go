package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skill"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		installed, err := skill.ListInstalled(cfg.SkillsDir())
		if err != nil {
			return err
		}

		if len(installed) == 0 {
			presenter.Info("No skills installed")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tDESCRIPTION")
		for _, s := range installed {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Manifest.Name, s.Manifest.Version, s.Manifest.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
