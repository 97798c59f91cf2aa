package main

import (
	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/logging"
	"github.com/spf13/cobra"
)

var downSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newProcess()
		if err != nil {
			return err
		}
		defer p.close()

		if err := database.MigrateUp(p.db.DB(), logging.WithComponent(p.log, "migrate")); err != nil {
			return err
		}

		p.log.Info().Msg("schema up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newProcess()
		if err != nil {
			return err
		}
		defer p.close()

		return database.MigrateDown(p.db.DB(), downSteps, logging.WithComponent(p.log, "migrate"))
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
