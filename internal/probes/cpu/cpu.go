// Package cpu implements the CPU load probe: instant and sustained
// usage from /proc/loadavg and /proc/stat, with a "high CPU for 15
// minutes" escalation to an error. Grounded on the original sitter_cpu
// plugin's on_process_watch.
package cpu

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name, and the key under which its
// findings appear in the Result Document.
const Name = "cpu"

const highCPUUsageFile = "high_cpu_usage.txt"

// Probe checks CPU load averages and flags sustained overload.
type Probe struct {
	// CachePath is where the high-cpu-usage tracking file lives.
	CachePath string
}

// New creates a cpu Probe.
func New(cachePath string) *Probe {
	return &Probe{CachePath: cachePath}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	load1, load5, load15, err := readLoadAvg()
	if err != nil {
		return err
	}
	uptime, idle, err := readUptime()
	if err != nil {
		return err
	}

	cpuCount := runtime.NumCPU()
	where.Child("count").Assign(int64(cpuCount))
	where.Child("uptime").Assign(uptime)
	where.Child("idle").Assign(idle)
	where.Child("avg1").Assign(load1)
	where.Child("avg5").Assign(load5)
	where.Child("avg15").Assign(load15)

	maxAvg1 := float64(cpuCount)
	if maxAvg1 > 1.0 {
		if maxAvg1 <= 2.0 {
			maxAvg1 *= 0.95
		} else {
			maxAvg1 *= 0.8
		}
	}

	cacheFile := p.CachePath + "/" + highCPUUsageFile

	if load1 >= maxAvg1 {
		now := time.Now().Unix()
		addWarning := true

		if data, err := os.ReadFile(cacheFile); err == nil {
			if startDate, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
				if now-startDate > 15*60 {
					if aerr := svc.AppendError(where, Name, "High CPU usage.", 100); aerr != nil {
						return aerr
					}
					addWarning = false
				}
			}
		} else {
			_ = os.WriteFile(cacheFile, []byte(strconv.FormatInt(now, 10)), 0644)
		}

		if addWarning {
			where.Child("warning").Assign("High CPU usage")
		}
	} else {
		os.Remove(cacheFile)
	}

	total, system, wait, err := readCPUTotals()
	if err == nil {
		where.Child("total_cpu_user").Assign(total)
		where.Child("total_cpu_system").Assign(system)
		where.Child("total_cpu_wait").Assign(wait)
	}

	return nil
}

func readLoadAvg() (load1, load5, load15 float64, err error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("cpu: malformed /proc/loadavg")
	}
	load1, _ = strconv.ParseFloat(fields[0], 64)
	load5, _ = strconv.ParseFloat(fields[1], 64)
	load15, _ = strconv.ParseFloat(fields[2], 64)
	return load1, load5, load15, nil
}

func readUptime() (uptime, idle float64, err error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("cpu: malformed /proc/uptime")
	}
	uptime, _ = strconv.ParseFloat(fields[0], 64)
	idle, _ = strconv.ParseFloat(fields[1], 64)
	return uptime, idle, nil
}

// readCPUTotals sums the aggregate "cpu" line of /proc/stat: user+nice,
// system, and idle+iowait, in clock ticks.
func readCPUTotals() (user, system, wait int64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		vals := make([]int64, 0, 7)
		for _, f := range fields[1:8] {
			v, _ := strconv.ParseInt(f, 10, 64)
			vals = append(vals, v)
		}
		// user, nice, system, idle, iowait, irq, softirq
		return vals[0] + vals[1], vals[2], vals[3] + vals[4], nil
	}
	return 0, 0, 0, fmt.Errorf("cpu: no aggregate cpu line in /proc/stat")
}
