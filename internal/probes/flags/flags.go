// Package flags implements the raised-flags probe: other services on
// the host persist a small file any time they want sitterd to surface
// a problem, and this probe collects whatever is currently raised.
// Grounded on the original sitter_flags plugin's on_process_watch,
// which read the communicatord flag list; flags are represented here
// as JSON files under a configured directory, since JSON is already
// this module's document format.
package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "flags"

// Flag is the persisted shape of one raised flag.
type Flag struct {
	Unit        string   `json:"unit"`
	Section     string   `json:"section"`
	Name        string   `json:"name"`
	Priority    int      `json:"priority"`
	ManualDown  bool     `json:"manual_down"`
	Date        int64    `json:"date"`
	Modified    int64    `json:"modified"`
	Message     string   `json:"message"`
	SourceFile  string   `json:"source_file"`
	Function    string   `json:"function"`
	Line        int      `json:"line"`
	Tags        []string `json:"tags,omitempty"`
}

// Probe reports flags raised by other services on the host.
type Probe struct {
	// FlagsPath holds one *.flag JSON file per raised flag.
	FlagsPath string
}

// New creates a flags Probe.
func New(flagsPath string) *Probe {
	return &Probe{FlagsPath: flagsPath}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe. An unreadable or empty flags
// directory is normal (no flags raised) and never an error.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	matches, err := filepath.Glob(filepath.Join(p.FlagsPath, "*.flag"))
	if err != nil || len(matches) == 0 {
		return nil
	}

	var names []string
	maxPriority := 5

	idx := 0
	for _, path := range matches {
		flag, err := loadFlag(path)
		if err != nil {
			continue
		}

		entry := where.Child("flag").Index(idx)
		idx++
		entry.Child("unit").Assign(flag.Unit)
		entry.Child("section").Assign(flag.Section)
		entry.Child("name").Assign(flag.Name)
		entry.Child("priority").Assign(int64(flag.Priority))
		entry.Child("manual-down").Assign(flag.ManualDown)
		entry.Child("date").Assign(flag.Date)
		entry.Child("modified").Assign(flag.Modified)
		entry.Child("message").Assign(flag.Message)
		entry.Child("source-file").Assign(flag.SourceFile)
		entry.Child("function").Assign(flag.Function)
		entry.Child("line").Assign(int64(flag.Line))
		if len(flag.Tags) > 0 {
			tags := entry.Child("tags")
			for j, tag := range flag.Tags {
				tags.Index(j).Assign(tag)
			}
		}

		names = append(names, flag.Name)
		if flag.Priority > maxPriority {
			maxPriority = flag.Priority
		}
	}

	if len(names) == 0 {
		return nil
	}

	verb := "are"
	plural := "s"
	if len(names) == 1 {
		verb = "is"
		plural = ""
	}
	message := fmt.Sprintf("%d flag%s %s raised -- %s", len(names), plural, verb, strings.Join(names, ", "))
	return svc.AppendError(where, Name, message, maxPriority)
}

func loadFlag(path string) (Flag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flag{}, err
	}
	var flag Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		return Flag{}, err
	}
	return flag, nil
}
