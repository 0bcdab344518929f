/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/savage-app/savage/internal/server"
	"github.com/savage-app/savage/pkg/logger"
	"github.com/spf13/cobra"
)

var workerOnce bool

// workerCmd keeps the username search index in sync.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Sync usernames to the search index",
	Long: `Consumes username sync requests from the message bus and syncs on
SEARCH_SYNC_INTERVAL. With --once it runs a single sync and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.With("cmd")

		worker, err := server.NewWorker(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init worker failed: %w", err)
		}
		defer func() {
			if err := worker.Close(); err != nil {
				log.Warn().Err(err).Msg("close worker")
			}
		}()

		if workerOnce {
			n, err := worker.Once(ctx)
			if err != nil {
				return fmt.Errorf("username sync failed: %w", err)
			}
			log.Info().Int("records", n).Msg("username sync complete")
			return nil
		}
		return worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "run a single sync and exit")
}
