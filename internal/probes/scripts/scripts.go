// Package scripts implements the custom-scripts probe: every file
// under a configured directory (README files excepted) is run through
// the starter, its output and exit code collected, and any output
// escalated to errors: stdout at a priority that depends on the exit
// code, stderr always at 90. Grounded on the original sitter_scripts plugin's
// process_script/generate_header.
package scripts

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "scripts"

const defaultStarter = "/bin/sh"

// Probe runs every script under ScriptsPath and reports the outcome.
type Probe struct {
	ScriptsPath string
	// Starter is the program every script is run with, the script path
	// being its argument; defaults to /bin/sh, matching the original's
	// scripts_starter parameter.
	Starter string
	// Version is reported in the header attached to escalated output,
	// the way the original stamps its own SITTER_VERSION_STRING.
	Version string
	// Hostname is reported in the same header.
	Hostname string
}

// New creates a scripts Probe.
func New(scriptsPath, starter, version, hostname string) *Probe {
	if starter == "" {
		starter = defaultStarter
	}
	return &Probe{ScriptsPath: scriptsPath, Starter: starter, Version: version, Hostname: hostname}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	if p.ScriptsPath == "" {
		return nil
	}
	entries, err := os.ReadDir(p.ScriptsPath)
	if err != nil {
		return nil
	}

	idx := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), "README") {
			continue
		}
		scriptPath := filepath.Join(p.ScriptsPath, entry.Name())
		if err := p.runScript(ctx, where.Index(idx), svc, scriptPath); err != nil {
			return err
		}
		idx++
	}
	return nil
}

func (p *Probe) runScript(ctx context.Context, entry docvalue.Ref, svc *hostservices.Services, scriptPath string) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.Starter, scriptPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	entry.Child("name").Assign(scriptPath)
	entry.Child("exit_code").Assign(int64(exitCode))

	if stdout.Len() > 0 {
		output := p.header("OUTPUT", start, scriptPath) + stdout.String()
		entry.Child("output").Assign(output)
		priority := 35
		if exitCode != 0 {
			priority = 65
		}
		if err := svc.AppendError(entry, Name, output, priority); err != nil {
			return err
		}
	}

	if stderr.Len() > 0 {
		errOutput := p.header("ERROR", start, scriptPath) + stderr.String()
		entry.Child("error").Assign(errOutput)
		if err := svc.AppendError(entry, Name, errOutput, 90); err != nil {
			return err
		}
	}

	return nil
}

// header mirrors the original's generate_header: a small text banner
// prefixed to escalated script output, identifying when and where it
// came from.
func (p *Probe) header(kind string, start time.Time, scriptPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s -----------------------------------------------------------\n", kind)
	fmt.Fprintf(&b, "Sitter-Version: %s\n", p.Version)
	fmt.Fprintf(&b, "Output-Type: %s\n", kind)
	fmt.Fprintf(&b, "Date: %s\n", start.UTC().Format("01/02/06 15:04:05"))
	fmt.Fprintf(&b, "Script: %s\n", scriptPath)
	if p.Hostname != "" {
		fmt.Fprintf(&b, "Hostname: %s\n", p.Hostname)
	}
	if ip := firstNonLoopbackAddr(); ip != "" {
		fmt.Fprintf(&b, "IP-Address: %s\n", ip)
	}
	b.WriteString("\n")
	return b.String()
}

func firstNonLoopbackAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
