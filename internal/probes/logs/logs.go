// Package logs implements the log-file probe: it checks a configured
// set of log definitions for existence, size, ownership, permissions,
// and content patterns. Grounded on the original sitter_log plugin's
// definition/log/search trio (definition.cpp, log.cpp, search.cpp).
package logs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "logs"

// Search describes one regular expression to look for inside a
// matched log file, and the severity to report it as.
type Search struct {
	Regex    string
	ReportAs string
}

// Definition mirrors the original plugin's log definition: a named
// set of files (found by globbing Patterns under Path), the expected
// ownership/mode, and a maximum size.
type Definition struct {
	Name      string
	Mandatory bool
	Secure    bool
	Path      string
	Patterns  []string
	UserName  string
	GroupName string
	MaxSize   int64
	Mode      uint32
	ModeMask  uint32
	Searches  []Search
}

// Probe checks the configured log definitions.
type Probe struct {
	Definitions []Definition
}

// New creates a logs Probe from a list of definitions.
func New(definitions []Definition) *Probe {
	return &Probe{Definitions: definitions}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	for _, def := range p.Definitions {
		found := false

		for _, pattern := range def.Patterns {
			matches, err := filepath.Glob(filepath.Join(def.Path, pattern))
			if err != nil {
				continue
			}
			for _, filename := range matches {
				if err := p.checkLog(where, svc, def, filename, &found); err != nil {
					return err
				}
			}
		}

		if !found && def.Mandatory {
			msg := fmt.Sprintf("no logs found for %s which says it is mandatory to have at least one log file", def.Name)
			if err := svc.AppendError(where, Name, msg, 85); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Probe) checkLog(where docvalue.Ref, svc *hostservices.Services, def Definition, filename string, found *bool) error {
	info, err := os.Stat(filename)
	if err != nil {
		// file does not exist anymore, or a permission problem: the
		// original treats this as silently skippable.
		return nil
	}
	*found = true

	entry := where.Child("log")
	entry.Child("name").Assign(def.Name)
	entry.Child("filename").Assign(filename)
	entry.Child("size").Assign(info.Size())
	entry.Child("mode").Assign(fmt.Sprintf("%o", info.Mode().Perm()))
	entry.Child("mtime").Assign(info.ModTime().Unix())

	st, _ := info.Sys().(*syscall.Stat_t)
	if st != nil {
		entry.Child("uid").Assign(int(st.Uid))
		entry.Child("gid").Assign(int(st.Gid))
	}

	if def.MaxSize > 0 && info.Size() > def.MaxSize {
		priority := 58
		if info.Size() > def.MaxSize*2 {
			priority = 73
		}
		msg := fmt.Sprintf("size of log file %s (%s) is %d, which is more than the maximum size of %d", def.Name, filename, info.Size(), def.MaxSize)
		if err := svc.AppendError(entry, Name, msg, priority); err != nil {
			return err
		}
	}

	if st != nil {
		if uid, ok := lookupUID(def.UserName); ok && uid != st.Uid {
			msg := fmt.Sprintf("log file owner mismatched for %s (%s), found %d expected %d", def.Name, filename, st.Uid, uid)
			if err := svc.AppendError(entry, Name, msg, 63); err != nil {
				return err
			}
		}
		if gid, ok := lookupGID(def.GroupName); ok && gid != st.Gid {
			msg := fmt.Sprintf("log file group mismatched for %s (%s), found %d expected %d", def.Name, filename, st.Gid, gid)
			if err := svc.AppendError(entry, Name, msg, 59); err != nil {
				return err
			}
		}
	}

	if def.Mode != 0 {
		actual := uint32(info.Mode().Perm())
		mask := def.ModeMask
		if mask == 0 {
			mask = 07777
		}
		if actual&mask != def.Mode {
			msg := fmt.Sprintf("log file mode mismatched %s (%s), found %o expected %o", def.Name, filename, actual, def.Mode)
			if err := svc.AppendError(entry, Name, msg, 64); err != nil {
				return err
			}
		}
	}

	for _, search := range def.Searches {
		if err := p.runSearch(entry, svc, def, filename, search); err != nil {
			return err
		}
	}

	return nil
}

// runSearch scans filename for matches of search.Regex, reporting an
// error at the priority implied by search.ReportAs when found.
func (p *Probe) runSearch(entry docvalue.Ref, svc *hostservices.Services, def Definition, filename string, search Search) error {
	priority := reportAsPriority(search.ReportAs)
	if priority < 0 {
		return nil
	}

	re, err := regexp.Compile(search.Regex)
	if err != nil {
		return nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	matches := 0
	for scanner.Scan() {
		if re.MatchString(scanner.Text()) {
			matches++
		}
	}
	if matches == 0 {
		return nil
	}

	msg := fmt.Sprintf("log file %s (%s) matched pattern %q %d time(s), reported as %s", def.Name, filename, search.Regex, matches, search.ReportAs)
	return svc.AppendError(entry, Name, msg, priority)
}

// reportAsPriority translates a report_as label into a priority.
// Numeric strings are used directly; -1 means "do not report".
func reportAsPriority(reportAs string) int {
	if n, err := strconv.Atoi(reportAs); err == nil {
		return n
	}
	switch reportAs {
	case "error", "":
		return 70
	case "warning":
		return 40
	case "info":
		return -1
	default:
		return 70
	}
}

func lookupUID(name string) (uint32, bool) {
	if name == "" {
		return 0, false
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, false
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, false
	}
	return uint32(uid), true
}

func lookupGID(name string) (uint32, bool) {
	if name == "" {
		return 0, false
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, false
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, false
	}
	return uint32(gid), true
}
