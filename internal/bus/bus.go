// Package bus defines the core's interface to the external cluster
// message bus. The bus itself is an external collaborator — a
// separate process the daemon registers with on a second thread — so
// this package specifies only the message shapes and the Endpoint
// seam the lifecycle controller drives; concrete transports live in
// subpackages such as httpbus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sitterd/sitterd/internal/sitterrors"
)

// MessageType identifies one of the bus message types the core reacts
// to.
type MessageType string

const (
	// TypeReady signals that the settings subsystem and bus
	// registration are complete; it enables the tick scheduler.
	TypeReady MessageType = "READY"
	// TypeStop initiates graceful shutdown.
	TypeStop MessageType = "STOP"
	// TypeQuitting also initiates graceful shutdown, with Quitting set.
	TypeQuitting MessageType = "QUITTING"
	// TypeReloadConfig sets the force-restart flag and initiates
	// graceful shutdown; the process should exit with the
	// restart-requested exit code.
	TypeReloadConfig MessageType = "RELOADCONFIG"
	// TypeRusage carries resource-usage accounting for another
	// process on the node.
	TypeRusage MessageType = "RUSAGE"
	// TypeConfigChanged names a single setting whose cached value
	// must be invalidated.
	TypeConfigChanged MessageType = "CONFIG-CHANGED"
)

// RusageFields mirrors the eleven accounting fields a RUSAGE message
// carries, exactly as specified in §4.7.
type RusageFields struct {
	ProcessName                string `json:"process_name"`
	PID                        string `json:"pid"`
	UserTime                   string `json:"user_time"`
	SystemTime                 string `json:"system_time"`
	MaxRSS                     string `json:"maxrss"`
	MinorPageFault             string `json:"minor_page_fault"`
	MajorPageFault             string `json:"major_page_fault"`
	InBlock                    string `json:"in_block"`
	OutBlock                   string `json:"out_block"`
	VolontaryContextSwitches   string `json:"volontary_context_switches"`
	InvolontaryContextSwitches string `json:"involontary_context_switches"`
}

// Message is one event delivered from the bus to the core.
type Message struct {
	Type MessageType `json:"type"`

	// Quitting distinguishes STOP from QUITTING; only meaningful when
	// Type is TypeStop or TypeQuitting.
	Quitting bool `json:"quitting,omitempty"`

	// Key names the invalidated setting when Type is TypeConfigChanged.
	Key string `json:"key,omitempty"`

	// Rusage carries the RUSAGE payload when Type is TypeRusage.
	Rusage *RusageFields `json:"rusage,omitempty"`
}

// Endpoint is the core's view of a connection to the cluster bus:
// register under a service name, receive a stream of Messages, and
// unregister on clean shutdown.
type Endpoint interface {
	// Register announces this service to the bus under serviceName.
	Register(ctx context.Context, serviceName string) error

	// Unregister withdraws the registration. Lifecycle skips this
	// step if the connection was already lost.
	Unregister(ctx context.Context) error

	// Messages returns the channel of incoming bus events. It is
	// closed when the Endpoint is closed.
	Messages() <-chan Message

	// Connected reports whether the bus connection is currently live.
	Connected() bool

	// Close releases the Endpoint's resources.
	Close() error
}

// PersistRusage writes a RUSAGE message's eleven accounting fields,
// plus the given timestamp as "date", to
// <dataPath>/rusage/<process_name>-<hour_of_day>.json, where
// hour_of_day = (timestamp / 3600) mod 24 — a 24-slot ring per
// process, one file per hour of the day.
func PersistRusage(dataPath string, msg Message, now time.Time) error {
	if msg.Type != TypeRusage || msg.Rusage == nil {
		return &sitterrors.MessageMalformed{MessageType: string(msg.Type), Reason: "RUSAGE message missing payload"}
	}
	if msg.Rusage.ProcessName == "" {
		return &sitterrors.MessageMalformed{MessageType: string(msg.Type), Reason: "missing process_name"}
	}

	dir := filepath.Join(dataPath, "rusage")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &sitterrors.IOFailure{Op: "mkdir rusage directory", Err: err}
	}

	hour := (now.Unix() / 3600) % 24
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.json", msg.Rusage.ProcessName, hour))

	record := struct {
		ProcessName                string `json:"process_name"`
		PID                        string `json:"pid"`
		UserTime                   string `json:"user_time"`
		SystemTime                 string `json:"system_time"`
		MaxRSS                     string `json:"maxrss"`
		MinorPageFault             string `json:"minor_page_fault"`
		MajorPageFault             string `json:"major_page_fault"`
		InBlock                    string `json:"in_block"`
		OutBlock                   string `json:"out_block"`
		VolontaryContextSwitches   string `json:"volontary_context_switches"`
		InvolontaryContextSwitches string `json:"involontary_context_switches"`
		Date                       int64  `json:"date"`
	}{
		ProcessName:                msg.Rusage.ProcessName,
		PID:                        msg.Rusage.PID,
		UserTime:                   msg.Rusage.UserTime,
		SystemTime:                 msg.Rusage.SystemTime,
		MaxRSS:                     msg.Rusage.MaxRSS,
		MinorPageFault:             msg.Rusage.MinorPageFault,
		MajorPageFault:             msg.Rusage.MajorPageFault,
		InBlock:                    msg.Rusage.InBlock,
		OutBlock:                   msg.Rusage.OutBlock,
		VolontaryContextSwitches:   msg.Rusage.VolontaryContextSwitches,
		InvolontaryContextSwitches: msg.Rusage.InvolontaryContextSwitches,
		Date:                       now.Unix(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return &sitterrors.IOFailure{Op: "marshal rusage record", Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &sitterrors.IOFailure{Op: "write rusage file", Err: err}
	}
	return nil
}
