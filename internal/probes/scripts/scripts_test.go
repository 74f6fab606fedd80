package scripts

import (
	"context"
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

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSuccessfulScriptRecordsNoError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "#!/bin/sh\nexit 0\n")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "", "1.0.0", "host1")

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no errors for a clean exit, got %d", doc.ErrorCount())
	}
}

func TestFailingScriptWithOutputRecordsError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.sh", "#!/bin/sh\necho something went wrong\nexit 2\n")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "", "1.0.0", "host1")

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 1 {
		t.Fatalf("expected 1 error, got %d", doc.ErrorCount())
	}
	if doc.MaxErrorPriority() != 65 {
		t.Errorf("expected priority 65 for failing script output, got %d", doc.MaxErrorPriority())
	}
}

func TestStderrOutputAlwaysEscalates(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "noisy.sh", "#!/bin/sh\necho oops 1>&2\nexit 0\n")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "", "1.0.0", "host1")

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.MaxErrorPriority() != 90 {
		t.Errorf("expected priority 90 for stderr output, got %d", doc.MaxErrorPriority())
	}
}

func TestReadmeFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "sitter_README.md", "do not run me")

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(dir, "", "1.0.0", "host1")

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected README to be skipped, got %d errors", doc.ErrorCount())
	}
}

func TestMissingScriptsPathIsNotAnError(t *testing.T) {
	doc := docvalue.New()
	svc := testServices(doc)
	p := New(filepath.Join(t.TempDir(), "does-not-exist"), "", "1.0.0", "host1")

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
}
