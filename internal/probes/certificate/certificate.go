// Package certificate implements the TLS certificate expiry probe: it
// reads a set of domain definitions from a configured directory, then
// connects to each one to check how soon its certificate expires,
// escalating priority as the deadline nears. Grounded on the original
// sitter_certificate plugin's on_process_watch/parse_delays.
package certificate

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

// Name is this probe's registered name.
const Name = "certificate"

const defaultCertificatePath = "/etc/sitterd/certificates"

// accessErrorGrace is how long a domain must keep failing to load
// before a transient connection failure escalates to a hard error.
const accessErrorGrace = 5 * time.Hour

// delayPriority pairs a days-until-expiry threshold with the priority
// to raise once the certificate is that close to expiring.
type delayPriority struct {
	days     int
	priority int
}

var defaultDelays = []delayPriority{
	{days: 7, priority: 100},
	{days: 14, priority: 85},
	{days: 30, priority: 45},
}

// Probe checks TLS certificate expiry for a set of domains.
type Probe struct {
	// CertificatePath holds one *.conf file per domain, each with a
	// "domain=<name>" line.
	CertificatePath string
	// WarningDelays is the raw "days/priority,days/priority,..."
	// configuration string; empty uses defaultDelays.
	WarningDelays string
	// Dialer performs the TLS handshake; overridable in tests.
	Dialer func(domain string) (*tls.ConnectionState, error)

	accessErrors map[string]time.Time
}

// New creates a certificate Probe.
func New(certificatePath, warningDelays string) *Probe {
	if certificatePath == "" {
		certificatePath = defaultCertificatePath
	}
	return &Probe{
		CertificatePath: certificatePath,
		WarningDelays:   warningDelays,
		Dialer:          dialTLS,
		accessErrors:    map[string]time.Time{},
	}
}

func (p *Probe) Name() string           { return Name }
func (p *Probe) Dependencies() []string { return nil }

// OnTick implements probe.Probe.
func (p *Probe) OnTick(ctx context.Context, where docvalue.Ref, svc *hostservices.Services) error {
	if p.accessErrors == nil {
		p.accessErrors = map[string]time.Time{}
	}
	delays := parseDelays(p.WarningDelays)

	matches, err := filepath.Glob(filepath.Join(p.CertificatePath, "[0-9][0-9]-*.conf"))
	if err != nil || len(matches) == 0 {
		return nil
	}

	now := time.Now()
	today := now.Unix() / 86400

	for _, path := range matches {
		domain := readDomain(path)
		if domain == "" {
			continue
		}
		where.Child("domain").Assign(domain)

		state, err := p.Dialer(domain)
		if err != nil {
			if aerr := p.reportAccessError(where, svc, domain, now); aerr != nil {
				return aerr
			}
			continue
		}
		delete(p.accessErrors, domain)

		notAfter := latestNotAfter(state)
		if notAfter.IsZero() {
			if err := svc.AppendError(where, Name, fmt.Sprintf("Failed getting the certificate notAfter date for domain %q.", domain), 90); err != nil {
				return err
			}
			continue
		}

		notAfterDay := notAfter.Unix() / 86400
		diff := notAfterDay - today

		if diff <= 0 {
			msg := fmt.Sprintf("Certificate for domain %q has expired on %s.", domain, notAfter.Format(time.RFC3339))
			if err := svc.AppendError(where, Name, msg, 100); err != nil {
				return err
			}
			continue
		}

		for _, d := range delays {
			if int(diff) <= d.days {
				plural := "s"
				if diff == 1 {
					plural = ""
				}
				msg := fmt.Sprintf("Certificate for domain %q will expire on %s (in %d day%s).", domain, notAfter.Format(time.RFC3339), diff, plural)
				if err := svc.AppendError(where, Name, msg, d.priority); err != nil {
					return err
				}
				break
			}
		}
	}

	return nil
}

// reportAccessError mirrors the original's debounce: a single
// connection failure is quiet; repeated failure past accessErrorGrace
// escalates to a hard error.
func (p *Probe) reportAccessError(where docvalue.Ref, svc *hostservices.Services, domain string, now time.Time) error {
	first, seen := p.accessErrors[domain]
	if !seen {
		p.accessErrors[domain] = now
		return nil
	}
	if now.Sub(first) <= accessErrorGrace {
		return nil
	}
	p.accessErrors[domain] = now
	return svc.AppendError(where, Name, fmt.Sprintf("Failed loading certificate of domain %q.", domain), 100)
}

func latestNotAfter(state *tls.ConnectionState) time.Time {
	var latest time.Time
	for _, cert := range state.PeerCertificates {
		if cert.NotAfter.After(latest) {
			latest = cert.NotAfter
		}
	}
	return latest
}

func dialTLS(domain string) (*tls.ConnectionState, error) {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", domain+":443", &tls.Config{ServerName: domain})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	state := conn.ConnectionState()
	return &state, nil
}

// readDomain extracts the "domain=<value>" line from a conf file.
func readDomain(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "domain=") {
			return strings.TrimSpace(strings.TrimPrefix(line, "domain="))
		}
	}
	return ""
}

// parseDelays parses the "days/priority,days/priority,..." format,
// sorted ascending by days so the first matching threshold wins,
// falling back to defaultDelays when nothing valid was configured.
func parseDelays(raw string) []delayPriority {
	if raw == "" {
		return defaultDelays
	}

	var delays []delayPriority
	for _, part := range strings.Split(raw, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), "/", 2)
		if len(fields) != 2 {
			continue
		}
		days, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		priority, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err1 != nil || err2 != nil || days <= 0 || days > 366*10 || priority < 0 || priority > 100 {
			continue
		}
		delays = append(delays, delayPriority{days: days, priority: priority})
	}

	if len(delays) == 0 {
		return defaultDelays
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i].days < delays[j].days })
	return delays
}
