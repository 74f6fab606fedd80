package cmd

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sitterd/sitterd/internal/bus/httpbus"
	"github.com/sitterd/sitterd/internal/config"
	"github.com/sitterd/sitterd/internal/email"
	"github.com/sitterd/sitterd/internal/lifecycle"
	"github.com/sitterd/sitterd/internal/probes"
	"github.com/sitterd/sitterd/internal/registry"
	"github.com/sitterd/sitterd/internal/throttle"
	"github.com/sitterd/sitterd/internal/tickscheduler"
	"github.com/sitterd/sitterd/internal/worker"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the health-monitoring daemon",
	Long: `run starts the probe worker, the tick scheduler, and the bus
endpoint, and blocks until a shutdown signal or a bus STOP/QUITTING/
RELOADCONFIG message is received.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("data-path", "", "directory where run documents and rusage records are persisted")
	runCmd.Flags().String("cache-path", "", "directory probes use for cross-tick state (defaults to /var/cache/sitterd)")
	runCmd.Flags().String("hostname", "", "hostname reported in emails and used by some probes (defaults to os.Hostname)")
	runCmd.Flags().String("service-name", "", "service name reported in emails (defaults to sitterd)")
	runCmd.Flags().String("from-address", "", "From: address for administrator reports")
	runCmd.Flags().String("administrator-address", "", "To: address for administrator reports")

	runCmd.Flags().String("bus-addr", ":9931", "address the bus HTTP endpoint listens on")
	runCmd.Flags().String("bus-token", "", "bearer token the bus must present (or BUS_TOKEN env var)")

	runCmd.Flags().String("smtp-addr", "localhost:25", "SMTP relay address (host:port)")
	runCmd.Flags().String("smtp-user", "", "SMTP auth username (optional)")
	runCmd.Flags().String("smtp-password", "", "SMTP auth password (or SMTP_PASSWORD env var)")

	runCmd.Flags().String("probes-config", "", "path to a JSON file configuring per-probe definitions")
	runCmd.Flags().StringSlice("disk-ignore", nil, "regular expressions of mount points the disk probe should ignore")

	runCmd.Flags().String("statistics-frequency", "", "how often to run probes (e.g. 5m)")
	runCmd.Flags().String("statistics-period", "", "retention ring period (e.g. 24h)")
	runCmd.Flags().String("statistics-ttl", "", "snapshot expiry: off, use-period, or a duration")
	runCmd.Flags().String("settle-time", "", "delay after startup before any report email may be sent")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("SIGTERM received, shutting down")
		cancel()
	}()

	values := map[string]string{}
	setIfNonEmpty := func(key string, flag string) {
		v, _ := cmd.Flags().GetString(flag)
		if v != "" {
			values[key] = v
		}
	}
	setIfNonEmpty(config.KeyDataPath, "data-path")
	setIfNonEmpty(config.KeyCachePath, "cache-path")
	setIfNonEmpty(config.KeyHostname, "hostname")
	setIfNonEmpty(config.KeyServiceName, "service-name")
	setIfNonEmpty(config.KeyFromAddress, "from-address")
	setIfNonEmpty(config.KeyAdminAddress, "administrator-address")
	setIfNonEmpty(config.KeyStatisticsFrequency, "statistics-frequency")
	setIfNonEmpty(config.KeyStatisticsPeriod, "statistics-period")
	setIfNonEmpty(config.KeyStatisticsTTL, "statistics-ttl")
	setIfNonEmpty(config.KeySettleTime, "settle-time")

	source := config.NewMapSource(values)
	cfgProvider := config.New(source, log)
	snap := cfgProvider.Snapshot()

	hostname := snap.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}

	probesConfigPath, _ := cmd.Flags().GetString("probes-config")
	probesCfg, err := probes.LoadConfig(probesConfigPath)
	if err != nil {
		return fmt.Errorf("load probes config: %w", err)
	}
	probesCfg.CachePath = snap.CachePath
	probesCfg.DiskHostname = hostname
	if ignore, _ := cmd.Flags().GetStringSlice("disk-ignore"); len(ignore) > 0 {
		probesCfg.DiskIgnorePatterns = ignore
	}

	reg, err := registry.Load(probes.Builtin(probesCfg, Version, hostname), nil)
	if err != nil {
		return fmt.Errorf("build probe registry: %w", err)
	}

	throttler := throttle.New(snap.CachePath, time.Now(), log)

	smtpAddr, _ := cmd.Flags().GetString("smtp-addr")
	smtpUser, _ := cmd.Flags().GetString("smtp-user")
	smtpPassword, _ := cmd.Flags().GetString("smtp-password")
	if smtpPassword == "" {
		smtpPassword = os.Getenv("SMTP_PASSWORD")
	}
	var auth smtp.Auth
	if smtpUser != "" {
		host := smtpAddr
		if idx := strings.LastIndex(smtpAddr, ":"); idx >= 0 {
			host = smtpAddr[:idx]
		}
		auth = smtp.PlainAuth("", smtpUser, smtpPassword, host)
	}
	sender := email.NewSMTPSender(smtpAddr, auth)

	w := worker.New(reg, cfgProvider, throttler, log, worker.Hooks{Send: sender.Send})

	scheduler := tickscheduler.New(func() time.Duration {
		return cfgProvider.Snapshot().StatisticsFrequency
	}, w.Tick)

	busToken, _ := cmd.Flags().GetString("bus-token")
	if busToken == "" {
		busToken = os.Getenv("BUS_TOKEN")
	}
	busAddr, _ := cmd.Flags().GetString("bus-addr")
	busEndpoint := httpbus.New(busAddr, busToken, log)
	defer busEndpoint.Close()

	serviceName := snap.ServiceName

	controller := &lifecycle.Controller{
		ServiceName: serviceName,
		Bus:         busEndpoint,
		Worker:      w,
		Scheduler:   scheduler,
		Config:      cfgProvider,
		DataPath:    snap.DataPath,
		Log:         log,
	}

	code := controller.Run(ctx)
	if code != lifecycle.ExitClean {
		return fmt.Errorf("exiting with code %d", code)
	}
	return nil
}
