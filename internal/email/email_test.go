package email

import (
	"context"
	"strings"
	"testing"
)

func TestComposeAbortsQuietlyWithoutAddresses(t *testing.T) {
	if _, ok := Compose("", "admin@example.com", "sitterd", "host1", "1.0", 1, []byte("{}"), 100); ok {
		t.Error("expected Compose to report ok=false with no from-address")
	}
	if _, ok := Compose("sitterd@example.com", "", "sitterd", "host1", "1.0", 1, []byte("{}"), 100); ok {
		t.Error("expected Compose to report ok=false with no administrator address")
	}
}

func TestComposeSubjectAndPluralization(t *testing.T) {
	msg, ok := Compose("sitterd@example.com", "admin@example.com", "sitterd", "host1", "1.0", 1, []byte("{}"), 100)
	if !ok {
		t.Fatal("expected Compose to succeed")
	}
	if !strings.Contains(msg.Subject, "found 1 error on host1") {
		t.Errorf("expected singular error wording, got %q", msg.Subject)
	}

	msg, ok = Compose("sitterd@example.com", "admin@example.com", "sitterd", "host1", "1.0", 3, []byte("{}"), 100)
	if !ok {
		t.Fatal("expected Compose to succeed")
	}
	if !strings.Contains(msg.Subject, "found 3 errors on host1") {
		t.Errorf("expected plural error wording, got %q", msg.Subject)
	}
}

func TestBuildMIMEProducesAttachmentAndHeaders(t *testing.T) {
	msg, ok := Compose("sitterd@example.com", "admin@example.com", "sitterd", "host1", "1.2.3", 2, []byte(`{"a":1}`), 1700000000)
	if !ok {
		t.Fatal("expected Compose to succeed")
	}

	raw, err := buildMIME(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := string(raw)

	for _, want := range []string{"X-Sitterd-Version: 1.2.3", "X-Start-Date: 1700000000", "Subject: sitterd: found 2 errors on host1", "application/json"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected MIME output to contain %q", want)
		}
	}
}

type recordingSender struct {
	received []Message
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	r.received = append(r.received, msg)
	return nil
}

func TestSenderInterfaceIsSatisfiedByStub(t *testing.T) {
	var s Sender = &recordingSender{}
	msg, _ := Compose("a@b.com", "c@d.com", "sitterd", "host1", "1.0", 1, []byte("{}"), 1)
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
