// Package disk implements the disk-space probe: statfs every mounted
// filesystem and raise escalating errors as a partition fills up.
// Grounded on the original sitter_disk plugin's on_process_watch,
// adapted from its SIGALRM-bounded statvfs_try into a goroutine raced
// against a timeout, the idiomatic Go equivalent of an interruptible
// syscall. Size formatting follows the retrieved fleet's disk-space
// probe, which also reaches for docker/go-units.
package disk

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sys/unix"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "disk"

const statfsTimeout = 3 * time.Second

var ignoreFilledPartitions = []*regexp.Regexp{
	regexp.MustCompile(`^/snap/core/`),
}

// Probe checks free space on every mounted filesystem.
type Probe struct {
	// Hostname is included in escalated error messages.
	Hostname string
	// IgnorePatterns are additional regexes of mount directories never
	// escalated to an error, read from configuration.
	IgnorePatterns []string
}

// New creates a disk Probe.
func New(hostname string, ignorePatterns []string) *Probe {
	return &Probe{Hostname: hostname, IgnorePatterns: ignorePatterns}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

type mount struct {
	dir string
}

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	mounts, err := readMounts()
	if err != nil {
		return err
	}

	userPatterns := make([]*regexp.Regexp, 0, len(p.IgnorePatterns))
	for _, pattern := range p.IgnorePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		userPatterns = append(userPatterns, re)
	}

	partitions := where.Child("partition")
	idx := 0
	for _, m := range mounts {
		stat, ok := statfsWithTimeout(m.dir, statfsTimeout)
		if !ok {
			continue
		}
		if stat.Blocks == 0 {
			// virtual filesystem, not a real partition.
			continue
		}

		entry := partitions.Index(idx)
		idx++

		blockSize := uint64(stat.Bsize)
		entry.Child("dir").Assign(m.dir)
		entry.Child("blocks").Assign(int64(stat.Blocks * blockSize / 1024))
		entry.Child("bfree").Assign(int64(stat.Bfree * blockSize / 1024))
		entry.Child("available").Assign(int64(stat.Bavail * blockSize / 1024))
		// statfs(2) has no separate "available to unprivileged users"
		// inode count the way statvfs(3) does; Ffree covers both.
		entry.Child("ffree").Assign(int64(stat.Ffree))
		entry.Child("favailable").Assign(int64(stat.Ffree))
		entry.Child("flags").Assign(int64(stat.Flags))

		usage := 1.0 - float64(stat.Bavail)/float64(stat.Blocks)
		if usage < 0.9 {
			continue
		}

		if matchesAny(m.dir, ignoreFilledPartitions) {
			entry.Child("error").Assign("partition used over 90% (ignore)")
			continue
		}

		entry.Child("error").Assign("partition used over 90%")

		if matchesAny(m.dir, userPatterns) {
			continue
		}

		priority := 55
		switch {
		case usage >= 0.999:
			priority = 100
		case usage >= 0.95:
			priority = 80
		}

		message := fmt.Sprintf(
			"partition %q on %q is close to full (%s used, %s free)",
			m.dir, p.Hostname, formatPercent(usage), units.HumanSize(float64(stat.Bavail*blockSize)),
		)
		if err := svc.AppendError(where, Name, message, priority); err != nil {
			return err
		}
	}

	return nil
}

func formatPercent(usage float64) string {
	return strconv.FormatFloat(usage*100, 'f', 1, 64) + "%"
}

func matchesAny(dir string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(dir) {
			return true
		}
	}
	return false
}

// readMounts parses /proc/mounts for the list of mounted directories.
func readMounts() ([]mount, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mounts []mount
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		mounts = append(mounts, mount{dir: fields[1]})
	}
	return mounts, scanner.Err()
}

// statfsWithTimeout calls unix.Statfs on its own goroutine and gives
// up after timeout, the Go equivalent of the original's SIGALRM-bound
// statvfs_try: a slow or locked-up filesystem (e.g. a stuck network
// mount) must never hang the whole probe run.
func statfsWithTimeout(path string, timeout time.Duration) (unix.Statfs_t, bool) {
	resultCh := make(chan unix.Statfs_t, 1)
	go func() {
		var stat unix.Statfs_t
		if err := unix.Statfs(path, &stat); err == nil {
			resultCh <- stat
		} else {
			close(resultCh)
		}
	}()

	select {
	case stat, ok := <-resultCh:
		return stat, ok
	case <-time.After(timeout):
		return unix.Statfs_t{}, false
	}
}
