package main

import (
	"context"
	"encoding/json"
	"fmt"

	"relay/cmd/internal/app"
	"relay/cmd/internal/history"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or reset the persisted message history",
}

var historyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the history document id, message count and capacity as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd, func(ctx context.Context, h *history.Log) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h.Status(ctx))
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Overwrite the history document with an empty history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd, func(ctx context.Context, h *history.Log) error {
			if err := h.Clear(ctx); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Chat history cleared")
			return err
		})
	},
}

func init() {
	historyCmd.AddCommand(historyStatusCmd, historyClearCmd)
}

func withHistory(cmd *cobra.Command, fn func(context.Context, *history.Log) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return app.WithHistory(ctx, cfg, log, fn)
}
