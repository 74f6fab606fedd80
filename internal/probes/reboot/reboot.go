// Package reboot implements the pending-reboot probe: it watches
// /run/reboot-required and escalates priority the longer the flag has
// stayed set. Grounded on the original sitter_reboot plugin's
// on_process_watch.
package reboot

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "reboot"

const flagFile = "/run/reboot-required"
const cacheFileName = "reboot.txt"

// Probe checks for a pending reboot.
type Probe struct {
	CachePath string
}

// New creates a reboot Probe.
func New(cachePath string) *Probe {
	return &Probe{CachePath: cachePath}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	cachePath := p.CachePath + "/" + cacheFileName

	required := fileReadable(flagFile)
	if !required {
		where.Child("required").Assign("false")
		os.Remove(cachePath)
		return nil
	}

	where.Child("required").Assign("true")

	now := time.Now().Unix()
	rebootDate := now
	if data, err := os.ReadFile(cachePath); err == nil {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			rebootDate = parsed
		}
	} else {
		_ = os.WriteFile(cachePath, []byte(strconv.FormatInt(rebootDate, 10)), 0644)
	}

	diffDays := now/86400 - rebootDate/86400

	priority := 100
	switch {
	case diffDays < 4:
		priority = 45
	case diffDays < 10:
		priority = 70
	case diffDays < 30:
		priority = 90
	}

	return svc.AppendError(where, Name, "Reboot is required.", priority)
}

func fileReadable(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
