package main

import (
	"os"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLGATE")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillgate")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	config.SetDefaults(viper.GetViper())
}

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Security-gated installer for third-party skills",
	Long: `Skillgate audits third-party skill code for dangerous constructs, tests it
inside a disposable sandbox, and only then installs it, with mandatory backup
and rollback on failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return err
			}
		}
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "fmt", "Log format (fmt, json)")
	flags.String("base-path", "", "Base directory for skillgate state (default ~/.skillgate)")
	flags.String("max-install-risk", "", "Highest audit risk level that may be installed (safe, low, medium, high, critical)")
	flags.String("sandbox-mode", "", "Sandbox execution mode (simulate, mock, limited, real)")
	flags.Duration("timeout", 0, "Wall-clock timeout for each sandbox execution")
	flags.String("store", "", "Report store backend (json, sqlite)")
	flags.String("config", "", "Config file (default $HOME/.skillgate/config.yaml)")

	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("base_path", flags.Lookup("base-path"))
	viper.BindPFlag("max_install_risk", flags.Lookup("max-install-risk"))
	viper.BindPFlag("sandbox_mode", flags.Lookup("sandbox-mode"))
	viper.BindPFlag("sandbox_timeout", flags.Lookup("timeout"))
	viper.BindPFlag("store", flags.Lookup("store"))

	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
