// Package apt implements the package-update probe: it reads the
// apt-check output cached by the configured cache path and reports
// available updates, escalating when a security update is pending or
// the cache has gone stale. Grounded on the original sitter_apt
// plugin's on_process_watch.
package apt

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
const Name = "apt"

const defaultCachePath = "/var/cache/sitterd"
const checkOutputFile = "apt-check.output"

// cacheFreshness is how long an apt-check run stays trusted, matching
// the original's "daily check, plus an hour of slack".
const cacheFreshness = 24*time.Hour + time.Hour

// Probe reports pending package updates.
type Probe struct {
	// CachePath is read from configuration; when empty, defaultCachePath
	// is used, per the resolved Open Question on the original's
	// snapmanager-owned default.
	CachePath string
}

// New creates an apt Probe.
func New(cachePath string) *Probe {
	if cachePath == "" {
		cachePath = defaultCachePath
	}
	return &Probe{CachePath: cachePath}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	path := p.CachePath + "/" + checkOutputFile

	data, err := os.ReadFile(path)
	if err != nil {
		msg := "\"" + path + "\" file is missing, sitterd is not getting APT status updates"
		where.Child("error").Assign(msg)
		return svc.AppendError(where, Name, msg, 20)
	}

	contents := strings.TrimSpace(string(data))
	if contents == "-1" {
		msg := "we are unable to check whether some updates are available (the `apt-check` command was not found)"
		where.Child("error").Assign(msg)
		return svc.AppendError(where, Name, msg, 98)
	}

	counts := strings.Split(contents, ";")
	if len(counts) != 3 {
		msg := "could not figure out the contents of \"" + path + "\", the apt-check output format may have changed"
		where.Child("error").Assign(msg)
		return svc.AppendError(where, Name, msg, 15)
	}

	cachedOn, err1 := strconv.ParseInt(counts[0], 10, 64)
	totalUpdates, err2 := strconv.ParseInt(counts[1], 10, 64)
	securityUpdates, err3 := strconv.ParseInt(counts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		msg := "could not figure out the contents of \"" + path + "\", the apt-check output format may have changed"
		where.Child("error").Assign(msg)
		return svc.AppendError(where, Name, msg, 15)
	}

	where.Child("last-updated").Assign(cachedOn)

	now := time.Now().Unix()
	if cachedOn+int64(cacheFreshness/time.Second) < now {
		msg := "\"" + path + "\" file is out of date, it was not refreshed in over a day"
		where.Child("error").Assign(msg)
		return svc.AppendError(where, Name, msg, 50)
	}

	if totalUpdates == 0 {
		return nil
	}

	where.Child("total-updates").Assign(totalUpdates)
	where.Child("security-updates").Assign(securityUpdates)

	priority := 45
	msg := "there are standard packages that can be upgraded now on this system."
	if securityUpdates != 0 {
		priority = 52
		msg = "there are packages including security updates that need to be upgraded on this system."
	}
	where.Child("error").Assign(msg)
	return svc.AppendError(where, Name, msg, priority)
}
