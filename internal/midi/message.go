// Package midi connects MIDI input ports and writes Standard MIDI Files.
package midi

import gomidi "gitlab.com/gomidi/midi/v2"

// IsNoteStart reports whether data is a note-on with non-zero velocity.
func IsNoteStart(data []byte) bool {
	var ch, key, vel uint8
	return gomidi.Message(data).GetNoteOn(&ch, &key, &vel) && vel > 0
}

// IsNoteActivity reports whether data is a note-on or note-off message.
func IsNoteActivity(data []byte) bool {
	var ch, key, vel uint8
	msg := gomidi.Message(data)
	return msg.GetNoteOn(&ch, &key, &vel) || msg.GetNoteOff(&ch, &key, &vel)
}

// isRealtime reports system realtime bytes (clock, active sensing, reset).
// They carry no musical content and 0xFF collides with SMF meta events.
func isRealtime(data []byte) bool {
	return len(data) > 0 && data[0] >= 0xF8
}
