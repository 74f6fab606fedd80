// Package processes implements the "is this process running" probe:
// a configured list of expected processes is matched against what is
// actually running, with systemd service-enabled/active checks for
// entries tied to a service and a maintenance-mode exemption for
// backend services. Grounded on the original sitter_processes
// plugin's sitter_process/load_processes/on_process_watch.
package processes

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "processes"

const maintenanceConfigFile = "/etc/apache2/snap-conf/snap-apache2-maintenance.conf"

// Spec describes one expected process, normally loaded from
// configuration alongside the rest of the Snapshot.
type Spec struct {
	// Name is both the key reported in the Result Document and, when
	// Command and Match are both empty, the literal process name to
	// look for.
	Name string
	// Mandatory processes escalate a missing-process finding to
	// priority 95 instead of 60.
	Mandatory bool
	// Command, if set, must equal the process's basename for Spec to
	// match it.
	Command string
	// Match holds a regular expression for the full command line. It is
	// loaded from configuration but OnTick does not consult it: lookup is
	// by processName() alone.
	Match string
	// Service, if set, is the systemd unit backing this process. An
	// inactive/disabled service makes a missing process expected, not
	// an error.
	Service string
	// Backend marks Service as a snapbackend-style unit, exempted
	// from its missing-process error while the system is in
	// maintenance mode.
	Backend bool
}

// Probe checks that a configured set of processes is running.
type Probe struct {
	Specs []Spec
}

// New creates a processes Probe.
func New(specs []Spec) *Probe {
	return &Probe{Specs: specs}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe. Every configured process is looked
// up via the shared process-table helper in hostservices and gets one
// element of the "process" array: its name, plus the accounting fields
// when it is running. Missing-process findings are recorded under where.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	maintenance := isInMaintenance()

	for _, spec := range p.Specs {
		expected := spec.isExpectedToRun()

		// mandatory is always false here: this probe reports its own
		// missing-process finding below, with a priority that depends
		// on maintenance mode and backend status, so OutputProcess must
		// stay silent rather than also reporting at its own priority.
		item := where.Child("process").Index(docvalue.Append)
		item.Child("name").Assign(spec.Name)
		found, err := svc.OutputProcess(item, Name, spec.processName(), false, 0)
		if err != nil {
			return err
		}
		if found {
			if spec.Backend && !expected {
				if err := svc.AppendError(where, Name, "found process \""+spec.Name+"\" running when disabled.", 35); err != nil {
					return err
				}
			}
			continue
		}

		if !expected {
			continue
		}

		priority := 60
		message := "can't find expected process \"" + spec.Name + "\" in the list of processes."
		if spec.Mandatory {
			priority = 95
			message = "can't find mandatory process \"" + spec.Name + "\" in the list of processes."
		}
		if spec.Backend && maintenance {
			priority = 5
		}
		if err := svc.AppendError(where, Name, message, priority); err != nil {
			return err
		}
	}

	return nil
}

// processName returns the literal process name to look up: Command
// when set, else the configured Name.
func (s Spec) processName() string {
	if s.Command != "" {
		return s.Command
	}
	return s.Name
}

// isExpectedToRun mirrors sitter_process::is_process_expected_to_run:
// a process with no attached service is always expected; one attached
// to a service (backend or not) needs that service to be enabled or
// active in systemd.
func (s Spec) isExpectedToRun() bool {
	if s.Service == "" {
		return true
	}
	if s.Backend {
		return isBackendEnabled(s.Service)
	}
	return isServiceEnabled(s.Service) || isServiceActive(s.Service)
}

func isServiceEnabled(service string) bool {
	out, err := exec.Command("systemctl", "show", "-p", "UnitFileState", "--value", service).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "enabled"
}

func isServiceActive(service string) bool {
	return exec.Command("systemctl", "is-active", service).Run() == nil
}

// isBackendEnabled checks a backend unit the same way as any other
// service, through systemd's enabled/active state; no cluster-wide
// list of enabled backends is consulted.
func isBackendEnabled(service string) bool {
	return isServiceEnabled(service) || isServiceActive(service)
}

var maintenanceMarker = regexp.MustCompile(`##MAINTENANCE-START##\s*#`)

// isInMaintenance mirrors the original's check of the Apache
// maintenance configuration: the marker line is present and NOT
// immediately commented out, and a Retry-After header follows.
func isInMaintenance() bool {
	return maintenanceActive(maintenanceConfigFile)
}

// maintenanceActive applies the isInMaintenance check to the file at path.
func maintenanceActive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	contents := string(data)
	if maintenanceMarker.MatchString(contents) {
		// marker present but commented out: not in maintenance.
		return false
	}
	if !strings.Contains(contents, "##MAINTENANCE-START##") {
		return false
	}
	return strings.Contains(contents, "Retry-After")
}
