package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitterd/sitterd/internal/db"
	"github.com/sitterd/sitterd/internal/web"
	"github.com/spf13/cobra"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the read-only operator dashboard",
	Long: `web serves a small JSON API and static landing page over a
sqlite index of the run-snapshot and rusage rings the run daemon
writes under --data-path, refreshing the index on an interval.`,
	RunE: runWeb,
}

func init() {
	rootCmd.AddCommand(webCmd)

	webCmd.Flags().Int("port", 8080, "port to listen on")
	webCmd.Flags().String("auth-token", "", "bearer token required on API requests (or AUTH_TOKEN env)")
	webCmd.Flags().String("data-path", "", "directory the run daemon persists run snapshots and rusage records into")
	webCmd.Flags().Duration("index-interval", 30*time.Second, "how often to re-scan the data path for new snapshots")
}

func runWeb(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	dbPath := getDashboardDBPath(cmd)
	port, _ := cmd.Flags().GetInt("port")
	authToken, _ := cmd.Flags().GetString("auth-token")
	if authToken == "" {
		authToken = os.Getenv("AUTH_TOKEN")
	}
	if authToken == "" {
		return fmt.Errorf("auth token required (--auth-token or AUTH_TOKEN)")
	}

	dataPath, _ := cmd.Flags().GetString("data-path")
	if dataPath == "" {
		dataPath = os.Getenv("DATA_PATH")
	}
	if dataPath == "" {
		dataPath = "/var/lib/sitterd"
	}

	if err := db.RunMigrations(dbPath); err != nil {
		return fmt.Errorf("apply dashboard schema: %w", err)
	}

	database, err := db.Connect(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close()

	interval, _ := cmd.Flags().GetDuration("index-interval")
	indexer := db.NewIndexer(database, dataPath, log)
	go indexer.Run(ctx, interval)

	server := web.NewServer(database, web.Config{Port: port, AuthToken: authToken}, log)

	log.Info("starting dashboard", "port", port, "data_path", dataPath)
	return server.Run(ctx)
}
