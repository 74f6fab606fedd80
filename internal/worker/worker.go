// Package worker implements the single dedicated thread that loads
// probes once and then loops: wait for a tick, run every probe
// against a fresh Result Document, persist it, and run it past the
// Report Throttler. It is grounded on the original daemon's worker
// loop: load_plugins once, then tick/wakeup/run_plugins/report_error
// in a cycle bounded by a mutex and condition variable.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitterd/sitterd/internal/config"
	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/email"
	"github.com/sitterd/sitterd/internal/hostservices"
	"github.com/sitterd/sitterd/internal/probe"
	"github.com/sitterd/sitterd/internal/registry"
	"github.com/sitterd/sitterd/internal/throttle"
)

// State is one of the four states the worker moves through.
type State int

const (
	StateLoading State = iota
	StateIdle
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Hooks lets the worker's host react to events without importing the
// lifecycle/email packages directly, keeping worker import-light and
// easy to test.
type Hooks struct {
	// Send delivers a composed report. Required only if reporting is
	// ever expected to fire; a nil Send silently drops reports.
	Send func(ctx context.Context, msg email.Message) error
}

// Worker is the probe-execution thread. Construct with New, then call
// Run in its own goroutine; Tick and Stop are safe to call from any
// other goroutine.
type Worker struct {
	reg       *registry.Registry
	cfg       *config.Provider
	throttler *throttle.Throttler
	log       *slog.Logger
	hooks     Hooks

	mu            sync.Mutex
	cond          *sync.Cond
	ticks         int
	stopRequested bool
	state         State

	done chan struct{}
}

// New creates a Worker. reg must already be loaded; the worker never
// reloads its probe set.
func New(reg *registry.Registry, cfg *config.Provider, throttler *throttle.Throttler, log *slog.Logger, hooks Hooks) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		reg:       reg,
		cfg:       cfg,
		throttler: throttler,
		log:       log,
		hooks:     hooks,
		state:     StateLoading,
		done:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// State returns the worker's current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Tick records one pending tick and wakes the worker if it is
// waiting. Multiple ticks recorded before the worker wakes collapse
// into a single run.
func (w *Worker) Tick() {
	w.mu.Lock()
	w.ticks++
	w.mu.Unlock()
	w.cond.Signal()
}

// Stop requests shutdown. It returns immediately; callers wait on
// Done to observe actual termination. If the worker is mid-run, the
// current probe completes before the loop exits — probes are not
// interrupted.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopRequested = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Done returns a channel closed once the worker has reached Stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run drives the Idle/Running loop until Stop is called. It is meant
// to be the body of the worker's dedicated goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.setState(StateIdle)

	for {
		w.mu.Lock()
		for w.ticks == 0 && !w.stopRequested {
			w.cond.Wait()
		}
		if w.stopRequested {
			w.mu.Unlock()
			break
		}
		n := w.ticks
		w.ticks = 0
		w.mu.Unlock()

		w.setState(StateRunning)
		w.runOnce(ctx, n)
		w.setState(StateIdle)
	}

	w.setState(StateStopped)
	close(w.done)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// runOnce performs exactly one run, regardless of how many ticks
// collapsed into it.
func (w *Worker) runOnce(ctx context.Context, collapsedTicks int) {
	snap := w.cfg.Snapshot()

	start := time.Now()
	doc := docvalue.New()
	doc.ClearErrors()
	runID := uuid.NewString()
	doc.Root().Child("run_id").Assign(runID)
	doc.Root().Child("start_date").Assign(start.Unix())

	svc := hostservices.New(doc, w.log)

	for _, p := range w.reg.Ordered() {
		// A stop request ends the run after the current probe; the
		// partial run is neither persisted nor reported.
		w.mu.Lock()
		stopping := w.stopRequested
		w.mu.Unlock()
		if stopping {
			return
		}
		w.runProbe(ctx, doc, svc, p)
	}

	end := time.Now()
	doc.Root().Child("end_date").Assign(end.Unix())

	if doc.FieldCount() <= 3 {
		w.log.Debug("run produced no findings, skipping persistence", "ticks", collapsedTicks)
		return
	}

	doc.Root().Child("error_count").Assign(doc.ErrorCount())
	doc.Root().Child("max_error_priority").Assign(doc.MaxErrorPriority())

	serialized, err := doc.Serialize()
	if err != nil {
		w.log.Error("failed to serialize result document", "error", err)
		return
	}

	if snap.DataPath != "" {
		if err := w.persist(snap, start, serialized); err != nil {
			w.log.Warn("failed to persist run", "error", err)
		}
	}

	w.report(ctx, snap, doc, serialized, start)
}

// runProbe invokes one probe, converting both a returned error and a
// recovered panic into a root-level error entry at priority 90 so one
// misbehaving probe never takes down the run.
func (w *Worker) runProbe(ctx context.Context, doc *docvalue.Document, svc *hostservices.Services, p probe.Probe) {
	defer func() {
		if r := recover(); r != nil {
			_ = doc.RecordError(doc.Root(), p.Name(), fmt.Sprintf("panic: %v", r), 90)
			w.log.Error("probe panicked", "probe", p.Name(), "recovered", r)
		}
	}()

	where := doc.Root().Child(p.Name())
	if err := p.OnTick(ctx, where, svc); err != nil {
		_ = doc.RecordError(doc.Root(), p.Name(), err.Error(), 90)
	}
}

// persist writes the serialized document into the retention ring:
// <data_path>/<(start/60*60) mod statistics_period>.json.
func (w *Worker) persist(snap config.Snapshot, start time.Time, serialized []byte) error {
	if err := os.MkdirAll(snap.DataPath, 0755); err != nil {
		return err
	}
	periodSeconds := int64(snap.StatisticsPeriod / time.Second)
	if periodSeconds <= 0 {
		periodSeconds = 1
	}
	slot := ((start.Unix() / 60) * 60) % periodSeconds
	path := filepath.Join(snap.DataPath, fmt.Sprintf("%d.json", slot))
	return os.WriteFile(path, serialized, 0644)
}

func (w *Worker) report(ctx context.Context, snap config.Snapshot, doc *docvalue.Document, serialized []byte, start time.Time) {
	if w.throttler == nil {
		return
	}
	decision, err := w.throttler.Evaluate(time.Now(), doc.MaxErrorPriority(), snap)
	if err != nil {
		w.log.Warn("throttler evaluation failed", "error", err)
		return
	}
	if !decision.ShouldReport {
		return
	}

	msg, ok := email.Compose(snap.FromAddress, snap.AdminAddress, snap.ServiceName, snap.Hostname, "", doc.ErrorCount(), serialized, start.Unix())
	if !ok {
		w.log.Warn("report gate fired but from/administrator address missing, aborting quietly")
		return
	}
	if w.hooks.Send == nil {
		w.log.Warn("report gate fired but no sender configured")
		return
	}
	if err := w.hooks.Send(ctx, msg); err != nil {
		w.log.Error("failed to send report email", "error", err)
	}
}
