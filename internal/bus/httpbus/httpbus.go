// Package httpbus implements bus.Endpoint as a small HTTP server: the
// cluster bus daemon POSTs lifecycle and RUSAGE events to it, the way
// the retrieved fleet's watchers POST results to its web backend.
// Registration here is bookkeeping only — a real bus attaches over a
// different transport of its own and is outside this repository's
// scope, per §1's "out of scope" list.
package httpbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sitterd/sitterd/internal/bus"
	"github.com/sitterd/sitterd/internal/sitterrors"
)

// Endpoint is an HTTP-server-backed bus.Endpoint. It listens on Addr
// for POST /bus/message carrying a bus.Message as JSON, authenticated
// by a bearer token, and forwards well-formed messages onto its
// Messages channel.
type Endpoint struct {
	Addr      string
	AuthToken string
	log       *slog.Logger

	mu          sync.Mutex
	server      *http.Server
	connected   bool
	serviceName string
	messages    chan bus.Message
	closeOnce   sync.Once
}

// New creates an Endpoint listening on addr, requiring authToken as a
// bearer token on every request.
func New(addr, authToken string, log *slog.Logger) *Endpoint {
	if log == nil {
		log = slog.Default()
	}
	return &Endpoint{
		Addr:      addr,
		AuthToken: authToken,
		log:       log,
		messages:  make(chan bus.Message, 16),
	}
}

// Register implements bus.Endpoint: it starts the HTTP listener and
// records serviceName for diagnostics.
func (e *Endpoint) Register(ctx context.Context, serviceName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.serviceName = serviceName
	mux := http.NewServeMux()
	mux.Handle("POST /bus/message", e.requireAuth(http.HandlerFunc(e.handleMessage)))

	e.server = &http.Server{Addr: e.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
	}

	e.connected = true
	e.log.Info("bus endpoint registered", "service", serviceName, "addr", e.Addr)
	return nil
}

// Unregister implements bus.Endpoint.
func (e *Endpoint) Unregister(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil
	}
	e.connected = false
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}

// Messages implements bus.Endpoint.
func (e *Endpoint) Messages() <-chan bus.Message {
	return e.messages
}

// Connected implements bus.Endpoint.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Close implements bus.Endpoint.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.Unregister(context.Background())
		close(e.messages)
	})
	return err
}

func (e *Endpoint) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != e.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Endpoint) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := validate(msg); err != nil {
		e.log.Warn("dropping malformed bus message", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case e.messages <- msg:
	case <-r.Context().Done():
	}

	w.WriteHeader(http.StatusAccepted)
}

func validate(msg bus.Message) error {
	switch msg.Type {
	case bus.TypeReady, bus.TypeStop, bus.TypeQuitting, bus.TypeReloadConfig:
		return nil
	case bus.TypeConfigChanged:
		if msg.Key == "" {
			return &sitterrors.MessageMalformed{MessageType: string(msg.Type), Reason: "missing key"}
		}
		return nil
	case bus.TypeRusage:
		if msg.Rusage == nil || msg.Rusage.ProcessName == "" {
			return &sitterrors.MessageMalformed{MessageType: string(msg.Type), Reason: "missing rusage payload"}
		}
		return nil
	default:
		return &sitterrors.MessageMalformed{MessageType: string(msg.Type), Reason: "unknown message type"}
	}
}
