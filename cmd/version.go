package cmd

import (
	"fmt"

	"github.com/DragonSenseiGuy/dragon-bot/dragonbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"version=%s commit=%s built: %s",
			dragonbot.Version,
			dragonbot.CommitSHA,
			dragonbot.BuildTime,
		)
	},
}

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(versionCmd)
}
