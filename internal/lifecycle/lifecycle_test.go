package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sitterd/sitterd/internal/bus"
	"github.com/sitterd/sitterd/internal/config"
	"github.com/sitterd/sitterd/internal/registry"
	"github.com/sitterd/sitterd/internal/throttle"
	"github.com/sitterd/sitterd/internal/tickscheduler"
	"github.com/sitterd/sitterd/internal/worker"
)

type fakeEndpoint struct {
	messages     chan bus.Message
	registered   bool
	unregistered bool
	connected    bool
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{messages: make(chan bus.Message, 8), connected: true}
}

func (f *fakeEndpoint) Register(ctx context.Context, name string) error {
	f.registered = true
	return nil
}
func (f *fakeEndpoint) Unregister(ctx context.Context) error {
	f.unregistered = true
	f.connected = false
	return nil
}
func (f *fakeEndpoint) Messages() <-chan bus.Message { return f.messages }
func (f *fakeEndpoint) Connected() bool              { return f.connected }
func (f *fakeEndpoint) Close() error                 { close(f.messages); return nil }

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStopMessageShutsDownCleanly(t *testing.T) {
	reg, _ := registry.Load(nil, nil)
	src := config.NewMapSource(map[string]string{
		config.KeyDataPath:  t.TempDir(),
		config.KeyCachePath: t.TempDir(),
	})
	cfg := config.New(src, testLog())
	th := throttle.New(t.TempDir(), time.Now(), testLog())
	w := worker.New(reg, cfg, th, testLog(), worker.Hooks{})
	sched := tickscheduler.New(func() time.Duration { return time.Hour }, w.Tick)

	ep := newFakeEndpoint()
	ctrl := &Controller{
		ServiceName: "sitterd",
		Bus:         ep,
		Worker:      w,
		Scheduler:   sched,
		Config:      cfg,
		DataPath:    t.TempDir(),
		Log:         testLog(),
	}

	resultCh := make(chan int, 1)
	go func() {
		resultCh <- ctrl.Run(context.Background())
	}()

	ep.messages <- bus.Message{Type: bus.TypeStop}

	select {
	case code := <-resultCh:
		if code != ExitClean {
			t.Errorf("expected exit code %d, got %d", ExitClean, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after STOP")
	}

	if !ep.registered || !ep.unregistered {
		t.Error("expected the bus endpoint to be registered then unregistered")
	}
}

func TestReloadConfigRequestsRestart(t *testing.T) {
	reg, _ := registry.Load(nil, nil)
	src := config.NewMapSource(map[string]string{
		config.KeyDataPath:  t.TempDir(),
		config.KeyCachePath: t.TempDir(),
	})
	cfg := config.New(src, testLog())
	th := throttle.New(t.TempDir(), time.Now(), testLog())
	w := worker.New(reg, cfg, th, testLog(), worker.Hooks{})
	sched := tickscheduler.New(func() time.Duration { return time.Hour }, w.Tick)

	ep := newFakeEndpoint()
	ctrl := &Controller{
		ServiceName: "sitterd",
		Bus:         ep,
		Worker:      w,
		Scheduler:   sched,
		Config:      cfg,
		DataPath:    t.TempDir(),
		Log:         testLog(),
	}

	resultCh := make(chan int, 1)
	go func() {
		resultCh <- ctrl.Run(context.Background())
	}()

	ep.messages <- bus.Message{Type: bus.TypeReloadConfig}

	select {
	case code := <-resultCh:
		if code != ExitRestartRequested {
			t.Errorf("expected exit code %d, got %d", ExitRestartRequested, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after RELOADCONFIG")
	}
}
