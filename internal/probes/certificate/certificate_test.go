package certificate

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

func testServices(doc *docvalue.Document) *hostservices.Services {
	return hostservices.New(doc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeDomainConf(t *testing.T, dir, filename, domain string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte("domain="+domain+"\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func fakeState(notAfter time.Time) *tls.ConnectionState {
	return &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{NotAfter: notAfter}}}
}

func TestExpiredCertificateRecordsMaxPriority(t *testing.T) {
	dir := t.TempDir()
	writeDomainConf(t, dir, "10-example.conf", "example.com")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "")
	p.Dialer = func(domain string) (*tls.ConnectionState, error) {
		return fakeState(time.Now().Add(-24 * time.Hour)), nil
	}

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.MaxErrorPriority() != 100 {
		t.Errorf("expected priority 100 for an expired cert, got %d", doc.MaxErrorPriority())
	}
}

func TestNearExpiryUsesDefaultDelay(t *testing.T) {
	dir := t.TempDir()
	writeDomainConf(t, dir, "10-example.conf", "example.com")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "")
	p.Dialer = func(domain string) (*tls.ConnectionState, error) {
		return fakeState(time.Now().Add(5 * 24 * time.Hour)), nil
	}

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.MaxErrorPriority() != 100 {
		t.Errorf("expected default 7-day threshold priority 100, got %d", doc.MaxErrorPriority())
	}
}

func TestHealthyCertificateRecordsNoError(t *testing.T) {
	dir := t.TempDir()
	writeDomainConf(t, dir, "10-example.conf", "example.com")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "")
	p.Dialer = func(domain string) (*tls.ConnectionState, error) {
		return fakeState(time.Now().Add(90 * 24 * time.Hour)), nil
	}

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no errors for a healthy certificate, got %d", doc.ErrorCount())
	}
}

func TestConnectionFailureIsQuietOnFirstOccurrence(t *testing.T) {
	dir := t.TempDir()
	writeDomainConf(t, dir, "10-example.conf", "example.com")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "")
	p.Dialer = func(domain string) (*tls.ConnectionState, error) {
		return nil, errors.New("connection refused")
	}

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected first access failure to stay quiet, got %d errors", doc.ErrorCount())
	}
}

func TestParseDelaysFallsBackToDefaultsOnInvalidInput(t *testing.T) {
	delays := parseDelays("not-valid-at-all")
	if len(delays) != len(defaultDelays) {
		t.Fatalf("expected fallback to default delays, got %v", delays)
	}
}

func TestParseDelaysSortsAscending(t *testing.T) {
	delays := parseDelays("30/45,7/100,14/85")
	if delays[0].days != 7 || delays[1].days != 14 || delays[2].days != 30 {
		t.Errorf("expected delays sorted ascending by days, got %v", delays)
	}
}
