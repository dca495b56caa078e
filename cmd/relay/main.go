// Command relay runs the WebSocket relay and its maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relay/cmd/internal/app"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Allow-listed WebSocket chat relay with persisted history",
	Long: `relay accepts WebSocket connections at /ws, authenticates participants against
RELAY_ALLOWED_USERS and relays text and media messages between them. The newest
RELAY_HISTORY_CAPACITY messages are persisted in the configured store backend and replayed
to every participant on authentication.

Running relay without a subcommand is the same as "relay serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading RELAY_* variables (missing files are skipped)")
	rootCmd.AddCommand(serveCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads and validates configuration and installs the process logger.
func setup() (app.Config, app.Logger, error) {
	if err := app.LoadDotEnv(envFiles...); err != nil {
		return app.Config{}, nil, err
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, nil, err
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return app.Config{}, nil, err
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := app.Run(ctx, cfg, log); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
