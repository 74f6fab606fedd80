// Package probe defines the single interface every built-in check
// implements, and the tick-scoped context a probe is handed to do its
// work.
package probe

import (
	"context"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Probe is one registered capability: CPU load, disk usage, a running
// daemon, a log file, whatever a single plugin covered in the original
// daemon. The Result Document is built fresh for every run, so any
// state a probe needs across runs lives in files it manages itself or
// in fields of the probe value.
type Probe interface {
	// Name identifies the probe in logs, in the Result Document, and in
	// dependency lists. It must be unique within a Registry.
	Name() string

	// Dependencies lists probe names that must run, and complete,
	// before this one does on the same tick. Most probes have none.
	Dependencies() []string

	// OnTick runs the probe's check for this tick. where is the
	// reference under which the probe should write its findings
	// (typically doc.Root().Child(p.Name())); svc gives it AppendError
	// and OutputProcess. A returned error aborts only this probe's
	// contribution to the tick; the worker records it as a root-level
	// error entry at priority 90 and continues with the remaining probes.
	OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error
}
