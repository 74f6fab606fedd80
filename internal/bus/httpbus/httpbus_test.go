package httpbus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sitterd/sitterd/internal/bus"
)

func TestRegisterAndDeliverMessage(t *testing.T) {
	ep := New("127.0.0.1:18732", "secret-token", nil)
	ctx := context.Background()
	if err := ep.Register(ctx, "sitterd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer ep.Close()

	body, _ := json.Marshal(bus.Message{Type: bus.TypeReady})
	req, _ := http.NewRequest("POST", "http://127.0.0.1:18732/bus/message", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	select {
	case msg := <-ep.Messages():
		if msg.Type != bus.TypeReady {
			t.Errorf("expected READY, got %v", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a message to be delivered")
	}
}

func TestRejectsMissingAuth(t *testing.T) {
	ep := New("127.0.0.1:18733", "secret-token", nil)
	if err := ep.Register(context.Background(), "sitterd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer ep.Close()

	body, _ := json.Marshal(bus.Message{Type: bus.TypeReady})
	resp, err := http.Post("http://127.0.0.1:18733/bus/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRejectsMalformedConfigChanged(t *testing.T) {
	ep := New("127.0.0.1:18734", "", nil)
	if err := ep.Register(context.Background(), "sitterd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer ep.Close()

	body, _ := json.Marshal(bus.Message{Type: bus.TypeConfigChanged})
	resp, err := http.Post("http://127.0.0.1:18734/bus/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for config-changed without a key, got %d", resp.StatusCode)
	}
}
