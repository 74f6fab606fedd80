package flags

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

func testServices(doc *docvalue.Document) *hostservices.Services {
	return hostservices.New(doc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFlag(t *testing.T, dir, name string, flag Flag) {
	t.Helper()
	data, err := json.Marshal(flag)
	if err != nil {
		t.Fatalf("marshal flag: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".flag"), data, 0644); err != nil {
		t.Fatalf("write flag: %v", err)
	}
}

func TestNoFlagsProducesNoError(t *testing.T) {
	doc := docvalue.New()
	svc := testServices(doc)
	p := New(t.TempDir())

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no errors with no flags raised, got %d", doc.ErrorCount())
	}
}

func TestSingleFlagUsesSingularWording(t *testing.T) {
	dir := t.TempDir()
	writeFlag(t, dir, "one", Flag{Unit: "sitterd", Section: "disk", Name: "low-space", Priority: 80})

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir)

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 1 {
		t.Fatalf("expected 1 error, got %d", doc.ErrorCount())
	}
	if doc.MaxErrorPriority() != 80 {
		t.Errorf("expected max priority 80, got %d", doc.MaxErrorPriority())
	}
}

func TestMultipleFlagsUsePluralWordingAndMaxPriority(t *testing.T) {
	dir := t.TempDir()
	writeFlag(t, dir, "one", Flag{Name: "low-space", Priority: 40})
	writeFlag(t, dir, "two", Flag{Name: "cert-expiring", Priority: 90})

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir)

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.MaxErrorPriority() != 90 {
		t.Errorf("expected max priority across flags to be 90, got %d", doc.MaxErrorPriority())
	}
}

func TestMalformedFlagFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.flag"), []byte("not json"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir)

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected malformed flag file to be skipped silently, got %d errors", doc.ErrorCount())
	}
}
