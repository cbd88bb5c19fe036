package cmd

import (
	"log"

	"github.com/DragonSenseiGuy/dragon-bot/dragonbot"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot, admin API and (optionally) webhook server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := dragonbot.New(cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(runCmd)
}
