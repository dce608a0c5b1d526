package cmd

import (
	"fmt"
	"log"
	"os"

	"Bt1QDJ/bot"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "1qdj_bot",
	Short: "1QDJ is a caching music playback bot for Discord.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting 1QDJ bot...")
		if err := bot.Start(); err != nil {
			log.Fatalf("bot exited: %v", err)
		}
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
