package hostservices

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/sitterrors"
)

func newTestServices() (*Services, *docvalue.Document) {
	doc := docvalue.New()
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(doc, log), doc
}

func TestAppendErrorRecordsAndLogs(t *testing.T) {
	svc, doc := newTestServices()

	if err := svc.AppendError(doc.Root(), "disk", "partition almost full", 55); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ErrorCount() != 1 {
		t.Fatalf("expected 1 recorded error, got %d", doc.ErrorCount())
	}
	if doc.MaxErrorPriority() != 55 {
		t.Errorf("expected max priority 55, got %d", doc.MaxErrorPriority())
	}
}

func TestAppendErrorRejectsOutOfRangePriority(t *testing.T) {
	svc, doc := newTestServices()

	err := svc.AppendError(doc.Root(), "disk", "bad priority", 200)
	if err == nil {
		t.Fatal("expected error for out-of-range priority")
	}
	var ip *sitterrors.InvalidPriority
	if _, ok := err.(*sitterrors.InvalidPriority); !ok {
		t.Errorf("expected *sitterrors.InvalidPriority, got %T (%v)", err, ip)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no recorded error, got %d", doc.ErrorCount())
	}
}

func TestOutputProcessMissingOptionalIsSilent(t *testing.T) {
	svc, doc := newTestServices()

	found, err := svc.OutputProcess(doc.Root().Child("proc"), "flags", "definitely-not-a-real-process-name", false, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no match for a nonexistent process name")
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no error recorded for an optional miss, got %d", doc.ErrorCount())
	}
}

func TestOutputProcessMissingMandatoryRecordsError(t *testing.T) {
	svc, doc := newTestServices()

	found, err := svc.OutputProcess(doc.Root().Child("proc"), "flags", "definitely-not-a-real-process-name", true, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no match for a nonexistent process name")
	}
	if doc.ErrorCount() != 1 {
		t.Errorf("expected 1 error recorded for a missing mandatory process, got %d", doc.ErrorCount())
	}
}
