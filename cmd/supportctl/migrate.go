package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"supportdesk.app/relay/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := db.MigrateUp(configFrom(cmd).DB.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return nil
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := db.MigrateDown(configFrom(cmd).DB.DSN, migrateDownSteps); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
