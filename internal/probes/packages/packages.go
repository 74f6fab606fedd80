// Package packages implements the package-state probe: it checks that
// required packages are installed, that unwanted packages are absent,
// and that no two installed packages conflict with each other.
// Grounded on the original sitter_packages plugin's sitter_package_t
// and its dpkg-query-backed installed-package cache.
package packages

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "packages"

const defaultCachePath = "/var/cache/sitterd"
const cacheFilename = "packages-cache.txt"

// Installation describes how a package is expected to be installed.
type Installation string

const (
	Optional Installation = "optional"
	Required Installation = "required"
	Unwanted Installation = "unwanted"
)

// Spec describes one package definition to check.
type Spec struct {
	Name         string
	Installation Installation
	Priority     int
	Description  string
	Conflicts    []string
}

func (s Spec) priority() int {
	if s.Priority == 0 {
		return 15
	}
	return s.Priority
}

// Probe checks installed package state against the configured Specs.
type Probe struct {
	Specs     []Spec
	CachePath string

	installed map[string]bool
	modified  bool
}

// New creates a packages Probe.
func New(specs []Spec, cachePath string) *Probe {
	if cachePath == "" {
		cachePath = defaultCachePath
	}
	return &Probe{Specs: specs, CachePath: cachePath}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	p.loadCache()

	for _, spec := range p.Specs {
		entry := where.Child("package")
		entry.Child("name").Assign(spec.Name)
		installation := spec.Installation
		if installation == "" {
			installation = Optional
		}
		entry.Child("installation").Assign(string(installation))
		if len(spec.Conflicts) > 0 {
			entry.Child("conflicts").Assign(strings.Join(spec.Conflicts, ", "))
		}

		installedHere := p.isInstalled(ctx, spec.Name)

		switch installation {
		case Required:
			if !installedHere {
				msg := fmt.Sprintf("The %q package is required but not (yet) installed. Please install this package at your earliest convenience.", spec.Name)
				if err := svc.AppendError(entry, Name, msg, spec.priority()); err != nil {
					return err
				}
				continue
			}
		case Unwanted:
			if installedHere {
				msg := fmt.Sprintf("The %q package is expected to NOT ever be installed. Please remove this package at your earliest convenience.", spec.Name)
				if err := svc.AppendError(entry, Name, msg, spec.priority()); err != nil {
					return err
				}
				continue
			}
		}

		if !installedHere {
			// not installed means it cannot be in conflict with anything
			continue
		}

		var inConflict []string
		for _, conflict := range spec.Conflicts {
			if p.isInstalled(ctx, conflict) {
				inConflict = append(inConflict, conflict)
			}
		}
		if len(inConflict) > 0 {
			msg := strings.TrimSpace(spec.Description) + fmt.Sprintf(" The %q package is in conflict with %q.", spec.Name, strings.Join(inConflict, "\", \""))
			if err := svc.AppendError(entry, Name, msg, spec.priority()); err != nil {
				return err
			}
		}
	}

	p.saveCache()
	return nil
}

func (p *Probe) loadCache() {
	if p.installed != nil {
		return
	}
	p.installed = map[string]bool{}

	data, err := os.ReadFile(filepath.Join(p.CachePath, cacheFilename))
	if err != nil {
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		name, value, ok := strings.Cut(line, "=")
		if !ok || name == "" {
			continue
		}
		p.installed[name] = value == "t"
	}
}

func (p *Probe) saveCache() {
	if !p.modified {
		return
	}
	if err := os.MkdirAll(p.CachePath, 0755); err != nil {
		return
	}
	var sb strings.Builder
	for name, installed := range p.installed {
		flag := "f"
		if installed {
			flag = "t"
		}
		fmt.Fprintf(&sb, "%s=%s\n", name, flag)
	}
	_ = os.WriteFile(filepath.Join(p.CachePath, cacheFilename), []byte(sb.String()), 0644)
	p.modified = false
}

// isInstalled checks (and caches) whether packageName is installed,
// per dpkg's package database.
func (p *Probe) isInstalled(ctx context.Context, packageName string) bool {
	if p.installed == nil {
		p.installed = map[string]bool{}
	}
	if installed, ok := p.installed[packageName]; ok {
		return installed
	}

	installed := queryDpkgStatus(ctx, packageName)
	p.installed[packageName] = installed
	p.modified = true
	return installed
}

func queryDpkgStatus(ctx context.Context, packageName string) bool {
	cmd := exec.CommandContext(ctx, "dpkg-query", "--showformat=${Status}", "--show", packageName)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "install ok installed"
}
