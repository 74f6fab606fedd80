// Package cmd wires the sitterd binary's subcommands: run (the
// health-monitoring daemon itself), web (the read-only operator
// dashboard), and migrate (the dashboard's sqlite schema). Grounded on
// the teacher's cobra-based cmd/root.go, generalized from a single
// "watcher" subcommand to the daemon/dashboard split this spec calls
// for.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/sitterd/sitterd/cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sitterd",
	Short: "Host-resident health-monitoring agent",
	Long:  `sitterd wakes on a timer, runs its registered probes, aggregates findings into a Result Document, and emails an administrator when severity thresholds are exceeded.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("dashboard-db", "", "path to the dashboard's sqlite index (or DASHBOARD_DB env)")
}

// getDashboardDBPath resolves the dashboard's sqlite path from the
// --dashboard-db flag, the DASHBOARD_DB environment variable, or a
// fixed default, in that order.
func getDashboardDBPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("dashboard-db")
	if path == "" {
		path = os.Getenv("DASHBOARD_DB")
	}
	if path == "" {
		path = "/var/lib/sitterd/dashboard.db"
	}
	return path
}

// Execute runs the selected subcommand.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelStr, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
