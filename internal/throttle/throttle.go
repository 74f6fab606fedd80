// Package throttle implements the Report Throttler: the file-backed
// gate deciding whether a run's findings are urgent and infrequent
// enough to justify another email, grounded directly on the original
// worker's report_error decision procedure.
package throttle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sitterd/sitterd/internal/config"
)

const lastReportFileName = "last_email_time.txt"

// Throttler tracks the persisted last-report time under cachePath and
// the process's own start time, which together bound when a report
// may fire.
type Throttler struct {
	cachePath string
	startTime time.Time
	log       *slog.Logger
}

// New creates a Throttler. startTime is the process start epoch, used
// for the settle-time check.
func New(cachePath string, startTime time.Time, log *slog.Logger) *Throttler {
	if log == nil {
		log = slog.Default()
	}
	return &Throttler{cachePath: cachePath, startTime: startTime, log: log}
}

// Decision records the outcome of evaluating the reporting gate for a
// single run, including which tier (if any) authorized it so callers
// can log or test against it.
type Decision struct {
	ShouldReport bool
	Span         time.Duration
}

// Evaluate runs the decision procedure from §4.6: priority floor,
// settle time, then a per-tier span check against the persisted last
// report time. A positive decision writes now to the persisted file
// before returning; a write failure is logged but never suppresses
// the report.
func (t *Throttler) Evaluate(now time.Time, maxErrorPriority int, snap config.Snapshot) (Decision, error) {
	if maxErrorPriority < snap.Low.Priority {
		return Decision{}, nil
	}
	if now.Sub(t.startTime) < snap.SettleTime {
		return Decision{}, nil
	}

	span := snap.Low.Span
	switch {
	case maxErrorPriority >= snap.Critical.Priority:
		span = snap.Critical.Span
	case maxErrorPriority >= snap.Medium.Priority:
		span = snap.Medium.Span
	}

	last, err := t.readLastReportTime()
	if err != nil {
		t.log.Warn("failed to read last report time, assuming none", "error", err)
		last = time.Unix(0, 0)
	}
	// A zero last-report time means no report has been sent yet.
	if last.Unix() != 0 && now.Sub(last) < span {
		return Decision{}, nil
	}

	if err := t.writeLastReportTime(now); err != nil {
		t.log.Warn("failed to persist last report time", "error", err)
	}

	return Decision{ShouldReport: true, Span: span}, nil
}

func (t *Throttler) path() string {
	return filepath.Join(t.cachePath, lastReportFileName)
}

func (t *Throttler) readLastReportTime() (time.Time, error) {
	data, err := os.ReadFile(t.path())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Unix(0, 0), nil
		}
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last report time: %w", err)
	}
	return time.Unix(secs, 0), nil
}

func (t *Throttler) writeLastReportTime(now time.Time) error {
	if err := os.MkdirAll(t.cachePath, 0700); err != nil {
		return err
	}
	tmp := t.path() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(now.Unix(), 10)), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path())
}
