/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/pkg/logger"
	"github.com/spf13/cobra"
)

var cfg config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "savage",
	Short: "Savage social site with private messaging",
	Long: `Savage is a small social site: accounts, sessions and private
direct messages between users, with a username search index kept in sync
in the background.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadConfig()
		logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	},
}

// Execute adds all child commands to the root command and runs it until
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
