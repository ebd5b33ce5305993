package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ngpt-server/internal/client"
	"ngpt-server/internal/infrastructure/logger"
	"ngpt-server/internal/utils/httpclients"
)

// options is the CLI configuration. Flags override the NGPT_* environment.
type options struct {
	RelayURL  string `env:"RELAY_URL" envDefault:"http://localhost:8080"`
	Token     string `env:"TOKEN"`
	Budget    int    `env:"BUDGET" envDefault:"0"`
	StoreFile string `env:"STORE_FILE"`
	Encoding  string `env:"TOKENIZER_ENCODING" envDefault:"cl100k_base"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

var opts options

func loadOptions(cmd *cobra.Command, _ []string) error {
	if err := env.ParseWithOptions(&opts, env.Options{Prefix: "NGPT_"}); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("relay-url") {
		opts.RelayURL, _ = flags.GetString("relay-url")
	}
	if flags.Changed("token") {
		opts.Token, _ = flags.GetString("token")
	}
	if flags.Changed("budget") {
		opts.Budget, _ = flags.GetInt("budget")
	}
	if flags.Changed("store") {
		opts.StoreFile, _ = flags.GetString("store")
	}
	if flags.Changed("log-level") {
		opts.LogLevel, _ = flags.GetString("log-level")
	}

	if opts.StoreFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config directory: %w", err)
		}
		opts.StoreFile = filepath.Join(dir, "ngpt", "conversations.yaml")
	}
	return nil
}

// newLogger logs to stderr; stdout carries only the conversation.
func newLogger() (zerolog.Logger, error) {
	return logger.NewWithWriter(os.Stderr, opts.LogLevel, opts.LogFormat)
}

func newRelayClient(log zerolog.Logger) *client.RelayClient {
	return client.NewRelayClient(httpclients.NewClient("ngpt-cli/"+version, log), opts.RelayURL, log)
}
