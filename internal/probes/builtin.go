// Package probes assembles the built-in probe set: one instance of
// each representative probe under internal/probes/<name>, configured
// from the daemon's cache path plus whatever per-probe definitions the
// operator supplied. This is the Go equivalent of the original
// daemon's load_plugins step, except the set of available plugins is
// fixed at compile time rather than discovered from installed
// packages.
package probes

import (
	"github.com/sitterd/sitterd/internal/probe"
	"github.com/sitterd/sitterd/internal/probes/apt"
	"github.com/sitterd/sitterd/internal/probes/certificate"
	"github.com/sitterd/sitterd/internal/probes/cpu"
	"github.com/sitterd/sitterd/internal/probes/disk"
	"github.com/sitterd/sitterd/internal/probes/firewall"
	"github.com/sitterd/sitterd/internal/probes/flags"
	"github.com/sitterd/sitterd/internal/probes/logs"
	"github.com/sitterd/sitterd/internal/probes/memory"
	"github.com/sitterd/sitterd/internal/probes/packages"
	"github.com/sitterd/sitterd/internal/probes/processes"
	"github.com/sitterd/sitterd/internal/probes/reboot"
	"github.com/sitterd/sitterd/internal/probes/scripts"
)

// Config collects the per-probe definitions that can't be derived
// from the daemon's general configuration: process lists, log
// definitions, package expectations, and the handful of path/process
// overrides the original configured per plugin. It is typically
// loaded from a JSON file via LoadConfig.
type Config struct {
	CachePath string `json:"-"`

	DiskHostname       string   `json:"-"`
	DiskIgnorePatterns []string `json:"disk_ignore_patterns"`

	Processes []processes.Spec `json:"processes"`

	Logs []logs.Definition `json:"logs"`

	Packages []packages.Spec `json:"packages"`

	FlagsPath string `json:"flags_path"`

	ScriptsPath    string `json:"scripts_path"`
	ScriptsStarter string `json:"scripts_starter"`

	CertificatePath   string `json:"certificate_path"`
	CertificateDelays string `json:"certificate_delays"`

	FirewallProcessName string `json:"firewall_process_name"`
}

// Builtin returns one instance of every representative probe, ready
// to be handed to registry.Load. Probes that take no configuration of
// their own (cpu, reboot, apt) still get the shared cache path; memory
// takes no arguments at all.
func Builtin(cfg Config, serviceVersion, hostname string) []probe.Probe {
	return []probe.Probe{
		cpu.New(cfg.CachePath),
		memory.New(),
		disk.New(cfg.DiskHostname, cfg.DiskIgnorePatterns),
		processes.New(cfg.Processes),
		logs.New(cfg.Logs),
		packages.New(cfg.Packages, cfg.CachePath),
		flags.New(cfg.FlagsPath),
		scripts.New(cfg.ScriptsPath, cfg.ScriptsStarter, serviceVersion, hostname),
		certificate.New(cfg.CertificatePath, cfg.CertificateDelays),
		reboot.New(cfg.CachePath),
		apt.New(cfg.CachePath),
		firewall.New(cfg.FirewallProcessName),
	}
}
