package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/DragonSenseiGuy/dragon-bot/dragonbot"
	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Print today's AI quota usage from the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := dragonbot.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}

		usage, err := bot.QuotaUsage(cmd.Context())
		if err != nil {
			return fmt.Errorf("error reading quota: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(usage)
	},
}

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(quotaCmd)
}
