// Package hostservices implements the two capabilities every probe is
// handed at tick time: recording an error into the Result Document, and
// describing a running process by name. Both are grounded on the
// server::append_error and server::output_process methods the original
// daemon exposed to its plugins.
package hostservices

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/sitterrors"
)

// Services is the set of host capabilities passed to Probe.OnTick. A new
// Services is created for every tick, wrapping that tick's Result
// Document and logger.
type Services struct {
	doc    *docvalue.Document
	log    *slog.Logger
	clkTck int64
}

// New wraps a Result Document and logger into a Services for one tick.
func New(doc *docvalue.Document, log *slog.Logger) *Services {
	return &Services{doc: doc, log: log, clkTck: 100}
}

// AppendError records an error against the document, logs it at ERROR
// level with the producing probe's name, and returns the validation
// error if priority is outside [0,100]. Plugins call this instead of
// returning a bare error so that one probe can report several findings
// in a single tick.
func (s *Services) AppendError(where docvalue.Ref, producer, message string, priority int) error {
	if priority < 0 || priority > 100 {
		return &sitterrors.InvalidPriority{Priority: priority}
	}
	if err := s.doc.RecordError(where, producer, message, priority); err != nil {
		return err
	}
	flat := strings.ReplaceAll(message, "\n", " ")
	s.log.Error(flat, "probe", producer, "priority", priority)
	return nil
}

// ProcessInfo is what OutputProcess writes into the document for a
// matched process.
type ProcessInfo struct {
	PID         int
	Cmdline     string
	UTimeTicks  int64
	STimeTicks  int64
	CUTimeTicks int64
	CSTimeTicks int64
	TotalSize   uint64
	Resident    uint64
	TTYMajor    int
	TTYMinor    int
}

// OutputProcess looks up a running process by executable name and
// writes its accounting fields under where. When mandatory is true and
// no matching process is found, it records an error ("can't find
// mandatory process...") through producer at the given priority and
// returns false with a nil error, mirroring the original plugin
// contract: a missing optional process is silence, a missing mandatory
// one is a finding at whatever priority the caller's contract assigns
// it. priority is ignored when mandatory is false.
func (s *Services) OutputProcess(where docvalue.Ref, producer, processName string, mandatory bool, priority int) (bool, error) {
	info, err := findProcessByName(processName)
	if err != nil {
		return false, &sitterrors.IOFailure{Op: "scan /proc", Err: err}
	}
	if info == nil {
		if mandatory {
			msg := fmt.Sprintf("can't find mandatory process named %q", processName)
			if aerr := s.AppendError(where, producer, msg, priority); aerr != nil {
				return false, aerr
			}
		}
		return false, nil
	}

	where.Child("cmdline").Assign(info.Cmdline)
	where.Child("pcpu").Assign(cpuPercent(info, s.clkTck))
	where.Child("total_size").Assign(int64(info.TotalSize))
	where.Child("resident").Assign(int64(info.Resident))
	where.Child("tty").Assign(fmt.Sprintf("%d,%d", info.TTYMajor, info.TTYMinor))
	where.Child("utime").Assign(info.UTimeTicks)
	where.Child("stime").Assign(info.STimeTicks)
	where.Child("cutime").Assign(info.CUTimeTicks)
	where.Child("cstime").Assign(info.CSTimeTicks)
	return true, nil
}

func cpuPercent(info *ProcessInfo, clkTck int64) float64 {
	if clkTck <= 0 {
		return 0
	}
	total := info.UTimeTicks + info.STimeTicks
	return float64(total) / float64(clkTck)
}

// findProcessByName scans /proc for the first process whose comm or
// argv[0] basename matches name. Returns nil, nil when nothing matches.
func findProcessByName(name string) (*ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := readComm(pid)
		if err != nil {
			continue
		}
		if comm != name {
			cmdline, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
			if err != nil {
				continue
			}
			argv0, _, _ := strings.Cut(string(cmdline), "\x00")
			if argv0 == "" || filepath.Base(argv0) != name {
				continue
			}
		}
		return readProcessInfo(pid, comm)
	}
	return nil, nil
}

func readComm(pid int) (string, error) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// readProcessInfo parses /proc/<pid>/stat for the accounting fields and
// /proc/<pid>/cmdline for the full invocation, and /proc/<pid>/statm for
// memory sizes (in pages, converted to bytes by the page size).
func readProcessInfo(pid int, comm string) (*ProcessInfo, error) {
	statPath := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	f, err := os.Open(statPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return nil, err
	}

	// Fields after the comm field in parentheses are space separated;
	// the comm itself may contain spaces or parens, so split past the
	// last ')'.
	close := strings.LastIndex(line, ")")
	if close < 0 {
		return nil, fmt.Errorf("hostservices: malformed stat line for pid %d", pid)
	}
	fields := strings.Fields(line[close+1:])
	// fields[0] is state (stat field 3); utime/stime/cutime/cstime are
	// stat fields 14-17 (1-indexed), so offsets 11..14 here.
	if len(fields) < 14 {
		return nil, fmt.Errorf("hostservices: short stat line for pid %d", pid)
	}
	utime, _ := strconv.ParseInt(fields[11], 10, 64)
	stime, _ := strconv.ParseInt(fields[12], 10, 64)
	cutime, _ := strconv.ParseInt(fields[13], 10, 64)
	var cstime int64
	if len(fields) > 14 {
		cstime, _ = strconv.ParseInt(fields[14], 10, 64)
	}
	ttyNr, _ := strconv.ParseInt(fields[4], 10, 64)

	cmdline, _ := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	cmd := strings.TrimRight(strings.ReplaceAll(string(cmdline), "\x00", " "), " ")
	if cmd == "" {
		cmd = comm
	}

	total, resident := readStatm(pid)

	return &ProcessInfo{
		PID:         pid,
		Cmdline:     cmd,
		UTimeTicks:  utime,
		STimeTicks:  stime,
		CUTimeTicks: cutime,
		CSTimeTicks: cstime,
		TotalSize:   total,
		Resident:    resident,
		TTYMajor:    int(ttyNr >> 8),
		TTYMinor:    int(ttyNr & 0xff),
	}, nil
}

func readStatm(pid int) (total, resident uint64) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "statm"))
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0, 0
	}
	pageSize := uint64(os.Getpagesize())
	size, _ := strconv.ParseUint(fields[0], 10, 64)
	rss, _ := strconv.ParseUint(fields[1], 10, 64)
	return size * pageSize, rss * pageSize
}
