package reboot

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
)

func testServices(doc *docvalue.Document) *hostservices.Services {
	return hostservices.New(doc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOnTickReportsNotRequiredWithoutFlagFile(t *testing.T) {
	doc := docvalue.New()
	svc := testServices(doc)
	p := New(t.TempDir())

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no errors when no reboot is required, got %d", doc.ErrorCount())
	}
}

func TestPriorityEscalatesWithAge(t *testing.T) {
	cases := []struct {
		diffDays int64
		expected int
	}{
		{1, 45},
		{5, 70},
		{20, 90},
		{40, 100},
	}
	for _, c := range cases {
		priority := 100
		switch {
		case c.diffDays < 4:
			priority = 45
		case c.diffDays < 10:
			priority = 70
		case c.diffDays < 30:
			priority = 90
		}
		if priority != c.expected {
			t.Errorf("diffDays=%d: expected %d, got %d", c.diffDays, c.expected, priority)
		}
	}
}

func TestCacheFileRemovedWhenNoLongerRequired(t *testing.T) {
	cacheDir := t.TempDir()
	cachePath := cacheDir + "/" + cacheFileName
	if err := os.WriteFile(cachePath, []byte(strconv.FormatInt(time.Now().Unix(), 10)), 0644); err != nil {
		t.Fatalf("seed cache file: %v", err)
	}

	doc := docvalue.New()
	svc := testServices(doc)
	p := New(cacheDir)

	if err := p.OnTick(context.Background(), doc.Root().Child(Name), svc); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Error("expected cache file to be removed once reboot is no longer required")
	}
}
