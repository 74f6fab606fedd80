// Package memory implements the memory-usage probe: totals from
// /proc/meminfo, with errors raised on low availability and on high
// swap usage. Grounded on the original sitter_memory plugin's
// on_process_watch.
package memory

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "memory"

const lowMemoryThreshold = 512 * 1024 * 1024 // bytes

// Probe checks RAM and swap usage.
type Probe struct{}

// New creates a memory Probe.
func New() *Probe { return &Probe{} }

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

type meminfo struct {
	memTotal     int64
	memFree      int64
	memAvailable int64
	buffers      int64
	cached       int64
	swapCached   int64
	swapTotal    int64
	swapFree     int64
}

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	info, err := readMeminfo()
	if err != nil {
		return err
	}

	where.Child("mem_total").Assign(info.memTotal)
	where.Child("mem_free").Assign(info.memFree)
	where.Child("mem_available").Assign(info.memAvailable)
	where.Child("mem_buffers").Assign(info.buffers)
	where.Child("mem_cached").Assign(info.cached)
	where.Child("swap_cached").Assign(info.swapCached)
	where.Child("swap_total").Assign(info.swapTotal)
	where.Child("swap_free").Assign(info.swapFree)

	if highMemoryUsage(info) {
		if err := svc.AppendError(where, Name, "High memory usage", 75); err != nil {
			return err
		}
	}

	if highSwapUsage(info) {
		if err := svc.AppendError(where, Name, "High swap usage", 65); err != nil {
			return err
		}
	}

	return nil
}

// highMemoryUsage mirrors the original's "always fine above 512MB
// available, otherwise error once under 20% available" rule.
func highMemoryUsage(info meminfo) bool {
	if info.memAvailable > lowMemoryThreshold {
		return false
	}
	if info.memTotal == 0 {
		return false
	}
	memLeftPercent := float64(info.memAvailable) / float64(info.memTotal)
	return memLeftPercent < 0.2
}

// highSwapUsage errors once less than half of configured swap remains
// free; a healthy system rarely uses more than 10%.
func highSwapUsage(info meminfo) bool {
	if info.swapTotal == 0 {
		return false
	}
	swapLeftPercent := float64(info.swapFree) / float64(info.swapTotal)
	return swapLeftPercent < 0.5
}

// readMeminfo parses /proc/meminfo. Values there are reported in kB;
// callers of this package work in bytes.
func readMeminfo() (meminfo, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return meminfo{}, err
	}
	defer f.Close()

	fields := map[string]int64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := line[:colon]
		rest := strings.Fields(strings.TrimSpace(line[colon+1:]))
		if len(rest) == 0 {
			continue
		}
		kb, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			continue
		}
		fields[key] = kb * 1024
	}

	return meminfo{
		memTotal:     fields["MemTotal"],
		memFree:      fields["MemFree"],
		memAvailable: fields["MemAvailable"],
		buffers:      fields["Buffers"],
		cached:       fields["Cached"],
		swapCached:   fields["SwapCached"],
		swapTotal:    fields["SwapTotal"],
		swapFree:     fields["SwapFree"],
	}, nil
}
