package cmd

import (
	"log/slog"

	"github.com/sitterd/sitterd/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the dashboard's sqlite schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("down", false, "roll back every applied migration")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dbPath := getDashboardDBPath(cmd)
	down, _ := cmd.Flags().GetBool("down")

	if down {
		slog.Info("rolling back dashboard schema", "db", dbPath)
		if err := db.RollbackMigrations(dbPath); err != nil {
			return err
		}
		slog.Info("rollback complete")
		return nil
	}

	slog.Info("applying dashboard schema", "db", dbPath)
	if err := db.RunMigrations(dbPath); err != nil {
		return err
	}
	slog.Info("migrations complete")
	return nil
}
