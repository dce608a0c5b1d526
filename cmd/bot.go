package cmd

import (
	"log"

	"Bt1QDJ/bot"

	"github.com/spf13/cobra"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Start the 1QDJ Discord bot",
	Long:  `Start the 1QDJ playback bot: joins Discord, serves per-guild queues and maintains the local audio cache.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := bot.Start(); err != nil {
			log.Fatalf("bot exited: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}
