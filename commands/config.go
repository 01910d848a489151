package commands

import (
	"github.com/penwyp/go-talkingbook-stats/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after defaults, the config file, TBSTATS_
environment variables and global flags were applied. The postgres password
is redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Dump(cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
