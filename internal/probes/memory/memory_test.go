package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

func testServices(doc *docvalue.Document) *hostservices.Services {
	return hostservices.New(doc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOnTickPopulatesFields(t *testing.T) {
	doc := docvalue.New()
	svc := testServices(doc)
	p := New()

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	if _, err := doc.Serialize(); err != nil {
		t.Fatalf("serialize: %v", err)
	}
}

func TestHighMemoryUsageSkippedAboveThreshold(t *testing.T) {
	info := meminfo{memTotal: 16 * 1024 * 1024 * 1024, memAvailable: 1024 * 1024 * 1024}
	if highMemoryUsage(info) {
		t.Error("expected no high-memory error above the 512MB floor")
	}
}

func TestHighMemoryUsageBelowTwentyPercent(t *testing.T) {
	info := meminfo{memTotal: 1 * 1024 * 1024 * 1024, memAvailable: 100 * 1024 * 1024}
	if !highMemoryUsage(info) {
		t.Error("expected high-memory error when available is under 20% of total and under 512MB")
	}
}

func TestHighSwapUsageBelowHalfFree(t *testing.T) {
	info := meminfo{swapTotal: 1024 * 1024 * 1024, swapFree: 400 * 1024 * 1024}
	if !highSwapUsage(info) {
		t.Error("expected high-swap error when less than 50% of swap is free")
	}
}

func TestHighSwapUsageNotTriggeredWithNoSwap(t *testing.T) {
	info := meminfo{swapTotal: 0, swapFree: 0}
	if highSwapUsage(info) {
		t.Error("expected no swap error when no swap is configured")
	}
}

func TestAppendErrorOnLowMemoryRecordsPriority(t *testing.T) {
	doc := docvalue.New()
	svc := testServices(doc)
	where := doc.Root().Child(Name)

	if err := svc.AppendError(where, Name, "High memory usage", 75); err != nil {
		t.Fatalf("AppendError: %v", err)
	}
	if doc.ErrorCount() != 1 {
		t.Errorf("expected 1 error recorded, got %d", doc.ErrorCount())
	}
	if doc.MaxErrorPriority() != 75 {
		t.Errorf("expected max priority 75, got %d", doc.MaxErrorPriority())
	}
}
