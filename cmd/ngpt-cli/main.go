package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ngpt",
	Short: "ngpt - terminal chat client for the ngpt relay",
	Long: `ngpt talks to an ngpt relay server and keeps your conversations on disk.

Examples:
  # Ask a single question
  ngpt chat "What is a goroutine?"

  # Start an interactive session in a new conversation
  ngpt chat --new

  # Attach an image
  ngpt chat --image diagram.png "Explain this diagram"

  # Check which account the token belongs to
  ngpt whoami`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadOptions,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(conversationsCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("relay-url", "", "Relay server base URL (env NGPT_RELAY_URL)")
	flags.String("token", "", "Identity token sent to the relay (env NGPT_TOKEN)")
	flags.Int("budget", 0, "Client-side context budget in tokens, 0 disables trimming (env NGPT_BUDGET)")
	flags.String("store", "", "Conversation store file (env NGPT_STORE_FILE)")
	flags.String("log-level", "", "Log level (env NGPT_LOG_LEVEL)")
}
