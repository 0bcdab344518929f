/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/internal/db"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), db.Migrate)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), db.MigrateDown)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// withDatabase opens the configured database without auto-migrating and
// runs fn against it.
func withDatabase(ctx context.Context, fn func(*sqlx.DB) error) error {
	dbCfg := cfg
	dbCfg.Database.AutoMigrate = false

	conn, err := db.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}
