package main

import (
	"fmt"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skill"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := args[0]
		if err := skill.Remove(cfg.SkillsDir(), name); err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Removed skill '%s'", name))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
