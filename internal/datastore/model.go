package datastore

import (
	"time"

	"github.com/tphakala/preroll-recorder/internal/session"
)

// SessionRecord is the indexed form of a session. File lists are kept as
// JSON columns so a record can be turned back into full metadata without
// reading the session directory.
type SessionRecord struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Timestamp      time.Time `gorm:"index;not null"`
	DurationSecs   float64   `gorm:"not null"`
	Path           string    `gorm:"not null"`
	HasAudio       bool      `gorm:"not null;default:false"`
	HasMIDI        bool      `gorm:"column:has_midi;not null;default:false"`
	HasVideo       bool      `gorm:"not null;default:false"`
	AudioCount     int       `gorm:"not null;default:0"`
	MIDICount      int       `gorm:"column:midi_count;not null;default:0"`
	VideoCount     int       `gorm:"not null;default:0"`
	TotalSizeBytes int64     `gorm:"not null;default:0"`
	IsFavorite     bool      `gorm:"index;not null;default:false"`
	Notes          string    `gorm:"type:text"`

	AudioFiles []session.AudioFile `gorm:"serializer:json;type:text"`
	MIDIFiles  []session.MIDIFile  `gorm:"column:midi_files;serializer:json;type:text"`
	VideoFiles []session.VideoFile `gorm:"serializer:json;type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name.
func (SessionRecord) TableName() string { return "sessions" }

// recordFrom converts session metadata into its index row.
func recordFrom(m *session.Metadata) *SessionRecord {
	sum := m.Summary()
	var size int64
	for _, f := range m.AudioFiles {
		size += f.SizeBytes
	}
	for _, f := range m.VideoFiles {
		size += f.SizeBytes
	}
	return &SessionRecord{
		ID:             m.ID,
		Timestamp:      m.Timestamp.UTC(),
		DurationSecs:   m.DurationSecs,
		Path:           m.Path,
		HasAudio:       sum.HasAudio,
		HasMIDI:        sum.HasMIDI,
		HasVideo:       sum.HasVideo,
		AudioCount:     len(m.AudioFiles),
		MIDICount:      len(m.MIDIFiles),
		VideoCount:     len(m.VideoFiles),
		TotalSizeBytes: size,
		IsFavorite:     m.IsFavorite,
		Notes:          m.Notes,
		AudioFiles:     m.AudioFiles,
		MIDIFiles:      m.MIDIFiles,
		VideoFiles:     m.VideoFiles,
	}
}

// Metadata converts the row back into session metadata.
func (r *SessionRecord) Metadata() *session.Metadata {
	m := &session.Metadata{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		DurationSecs: r.DurationSecs,
		Path:         r.Path,
		AudioFiles:   r.AudioFiles,
		MIDIFiles:    r.MIDIFiles,
		VideoFiles:   r.VideoFiles,
		Notes:        r.Notes,
		IsFavorite:   r.IsFavorite,
	}
	if m.AudioFiles == nil {
		m.AudioFiles = []session.AudioFile{}
	}
	if m.MIDIFiles == nil {
		m.MIDIFiles = []session.MIDIFile{}
	}
	if m.VideoFiles == nil {
		m.VideoFiles = []session.VideoFile{}
	}
	return m
}

// Summary returns the list view of the row.
func (r *SessionRecord) Summary() session.Summary {
	return session.Summary{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		DurationSecs: r.DurationSecs,
		HasAudio:     r.HasAudio,
		HasMIDI:      r.HasMIDI,
		HasVideo:     r.HasVideo,
		IsFavorite:   r.IsFavorite,
		Notes:        r.Notes,
	}
}
