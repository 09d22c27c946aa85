package preroll

import "time"

// midiEventOverhead approximates per-event bookkeeping in bytes.
const midiEventOverhead = 48

// MIDIEvent is one raw MIDI message captured from a device.
type MIDIEvent struct {
	Device     string
	Data       []byte
	CapturedAt time.Time
}

// Timestamp implements Item.
func (e MIDIEvent) Timestamp() time.Time { return e.CapturedAt }

// Size implements Item.
func (e MIDIEvent) Size() int { return len(e.Data) + len(e.Device) + midiEventOverhead }

// TimedMIDIEvent is a MIDI message placed on the session timeline.
type TimedMIDIEvent struct {
	Device string
	Data   []byte
	Offset time.Duration
}

// MIDIBuffer holds recent MIDI events from every device.
type MIDIBuffer struct {
	buf    *Buffer[MIDIEvent]
	window time.Duration
}

// NewMIDIBuffer creates a buffer keeping window worth of events. The byte
// ceiling assumes a dense controller stream of maxEventsPerSec messages.
func NewMIDIBuffer(window time.Duration) *MIDIBuffer {
	return &MIDIBuffer{
		buf:    New[MIDIEvent](midiBound(window)),
		window: window,
	}
}

const maxEventsPerSec = 3000

func midiBound(window time.Duration) Bound {
	return BoundFor(window, float64(maxEventsPerSec*(midiEventOverhead+3)))
}

// Push buffers an event and drops everything older than the window measured
// from the event's capture time.
func (m *MIDIBuffer) Push(ev MIDIEvent) {
	m.buf.Push(ev)
	if m.window > 0 {
		m.buf.EvictBefore(ev.CapturedAt.Add(-m.window))
	}
}

// SetWindow changes the retention window.
func (m *MIDIBuffer) SetWindow(window time.Duration) {
	m.window = window
	m.buf.SetBound(midiBound(window))
}

// Len returns the number of buffered events.
func (m *MIDIBuffer) Len() int { return m.buf.Len() }

// Clear discards all buffered events.
func (m *MIDIBuffer) Clear() { m.buf.Clear() }

// DrainSynced empties the buffer and places the events on a timeline that
// begins sync before now. Events older than sync are discarded. Without a
// sync window, the first event is placed at offset zero.
func (m *MIDIBuffer) DrainSynced(now time.Time, sync *time.Duration) []TimedMIDIEvent {
	events := m.buf.Drain()
	if len(events) == 0 {
		return nil
	}

	out := make([]TimedMIDIEvent, 0, len(events))
	if sync == nil {
		first := events[0].CapturedAt
		for _, ev := range events {
			out = append(out, TimedMIDIEvent{Device: ev.Device, Data: ev.Data, Offset: ev.CapturedAt.Sub(first)})
		}
		return out
	}

	for _, ev := range events {
		ago := now.Sub(ev.CapturedAt)
		if ago < 0 {
			ago = 0
		}
		if ago > *sync {
			continue
		}
		out = append(out, TimedMIDIEvent{Device: ev.Device, Data: ev.Data, Offset: *sync - ago})
	}
	return out
}
