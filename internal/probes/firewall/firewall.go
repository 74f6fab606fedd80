// Package firewall implements the firewall-daemon probe: it confirms
// that the configured firewall process is running, as a mandatory
// process. Grounded on the original sitter_firewall plugin's
// on_process_watch, which checked for "snapfirewall" via
// output_process.
package firewall

import (
	"context"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "firewall"

const defaultProcessName = "nftables"

// Probe checks that the host's firewall daemon is running.
type Probe struct {
	// ProcessName is the process sought in the process table; defaults
	// to a name appropriate for this era's firewall tooling.
	ProcessName string
}

// New creates a firewall Probe.
func New(processName string) *Probe {
	if processName == "" {
		processName = defaultProcessName
	}
	return &Probe{ProcessName: processName}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe. A missing firewall daemon is
// mandatory-level (priority 95) just as in the original.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	_, err := svc.OutputProcess(where, Name, p.ProcessName, true, 95)
	return err
}
