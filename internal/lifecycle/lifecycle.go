// Package lifecycle owns the main loop: signal handling, bus message
// dispatch, and the shutdown ordering and exit-code selection
// described in §4.8 of the design. It is grounded on the original
// daemon's top-level server plus the retrieved fleet's signal-handling
// idiom in cmd/watcher.go.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitterd/sitterd/internal/bus"
	"github.com/sitterd/sitterd/internal/config"
	"github.com/sitterd/sitterd/internal/tickscheduler"
	"github.com/sitterd/sitterd/internal/worker"
)

// Exit codes per §4.8.
const (
	ExitClean            = 0
	ExitRestartRequested = 2
)

// Controller drives the process from startup through clean shutdown.
type Controller struct {
	ServiceName string
	Bus         bus.Endpoint
	Worker      *worker.Worker
	Scheduler   *tickscheduler.Scheduler
	Config      *config.Provider
	DataPath    string
	Log         *slog.Logger
}

// Run performs the startup sequence, drives the event loop until a
// stop condition is observed, performs the shutdown sequence, and
// returns the process exit code.
func (c *Controller) Run(ctx context.Context) int {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := c.Bus.Register(ctx, c.ServiceName); err != nil {
		log.Error("bus registration failed", "error", err)
		return 1
	}

	go c.Worker.Run(ctx)

	forceRestart := false
	stopping := false

	requestStop := func() {
		if stopping {
			return
		}
		stopping = true
		cancel()
	}

loop:
	for {
		select {
		case <-sigCh:
			log.Info("SIGINT received, shutting down")
			requestStop()

		case msg, ok := <-c.Bus.Messages():
			if !ok {
				log.Warn("bus connection closed")
				requestStop()
				continue
			}
			switch msg.Type {
			case bus.TypeReady:
				c.Scheduler.Enable()
			case bus.TypeStop, bus.TypeQuitting:
				requestStop()
			case bus.TypeReloadConfig:
				forceRestart = true
				requestStop()
			case bus.TypeRusage:
				if err := bus.PersistRusage(c.DataPath, msg, time.Now()); err != nil {
					log.Warn("failed to persist rusage message", "error", err)
				}
			case bus.TypeConfigChanged:
				c.Config.Invalidate(msg.Key)
			}

		case <-c.Worker.Done():
			break loop
		}

		if stopping {
			break loop
		}
	}

	c.shutdown(log)

	if forceRestart {
		return ExitRestartRequested
	}
	return ExitClean
}

// shutdown performs the ordering from §4.8: mark stopping (the
// caller already has, by cancelling ctx), stop and join the worker,
// unregister from the bus unless the connection is already lost, then
// tear down the scheduler.
func (c *Controller) shutdown(log *slog.Logger) {
	c.Worker.Stop()
	<-c.Worker.Done()

	if c.Bus.Connected() {
		unregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Bus.Unregister(unregisterCtx); err != nil {
			log.Warn("bus unregister failed", "error", err)
		}
	}

	c.Scheduler.Stop()
}
