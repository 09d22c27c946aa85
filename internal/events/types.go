// Package events provides an asynchronous event bus that carries recording
// lifecycle events to notification consumers without blocking the
// recording path.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	RecordingStarted Kind = "recording-started"
	RecordingStopped Kind = "recording-stopped"
)

// RecordingEvent describes one lifecycle transition of a session.
type RecordingEvent struct {
	Kind         Kind      `json:"kind"`
	SessionID    string    `json:"session_id"`
	SessionPath  string    `json:"session_path"`
	Devices      []string  `json:"devices"`
	DurationSecs float64   `json:"duration_secs,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Key identifies duplicates of the same transition.
func (e RecordingEvent) Key() string {
	return string(e.Kind) + "|" + e.SessionID
}

// Title is a short human readable headline.
func (e RecordingEvent) Title() string {
	switch e.Kind {
	case RecordingStarted:
		return "Recording started"
	case RecordingStopped:
		return "Recording stopped"
	default:
		return string(e.Kind)
	}
}

// Message summarizes the event for push notifications.
func (e RecordingEvent) Message() string {
	var b strings.Builder
	b.WriteString(e.Title())
	if e.Kind == RecordingStopped && e.DurationSecs > 0 {
		fmt.Fprintf(&b, " after %.1fs", e.DurationSecs)
	}
	if len(e.Devices) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Devices, ", "))
	}
	return b.String()
}

// Consumer processes events delivered by the bus.
type Consumer interface {
	// Name identifies the consumer in logs.
	Name() string

	// Consume handles a single event.
	Consume(event RecordingEvent) error
}

// Stats contains runtime statistics for monitoring.
type Stats struct {
	Received       uint64
	Processed      uint64
	Dropped        uint64
	Suppressed     uint64
	ConsumerErrors uint64
}
