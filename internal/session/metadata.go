// Package session describes the on-disk layout of a recording session: its
// directory, file names and the session.json metadata document.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

// MetadataFile is the name of the metadata document inside a session directory.
const MetadataFile = "session.json"

// Metadata describes one recorded session.
type Metadata struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	DurationSecs float64     `json:"duration_secs"`
	Path         string      `json:"path"`
	AudioFiles   []AudioFile `json:"audio_files"`
	MIDIFiles    []MIDIFile  `json:"midi_files"`
	VideoFiles   []VideoFile `json:"video_files"`
	Notes        string      `json:"notes"`
	IsFavorite   bool        `json:"is_favorite"`
}

// AudioFile describes one audio file of a session.
type AudioFile struct {
	Filename     string  `json:"filename"`
	Device       string  `json:"device_name"`
	Channels     int     `json:"channels"`
	SampleRate   int     `json:"sample_rate"`
	DurationSecs float64 `json:"duration_secs"`
	SizeBytes    int64   `json:"size_bytes"`
}

// MIDIFile describes one MIDI file of a session.
type MIDIFile struct {
	Filename    string `json:"filename"`
	Device      string `json:"device_name"`
	EventCount  int    `json:"event_count"`
	NeedsRepair bool   `json:"-"`
}

// VideoFile describes one video file of a session.
type VideoFile struct {
	Filename     string  `json:"filename"`
	Device       string  `json:"device_name"`
	DurationSecs float64 `json:"duration_secs"`
	SizeBytes    int64   `json:"size_bytes"`
	HasAudio     bool    `json:"has_audio"`
}

// Summary is the list view of a session.
type Summary struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	DurationSecs float64   `json:"duration_secs"`
	HasAudio     bool      `json:"has_audio"`
	HasMIDI      bool      `json:"has_midi"`
	HasVideo     bool      `json:"has_video"`
	IsFavorite   bool      `json:"is_favorite"`
	Notes        string    `json:"notes"`
}

// New returns empty metadata for a session stored at path.
func New(path string, startedAt time.Time) *Metadata {
	return &Metadata{
		ID:         uuid.NewString(),
		Timestamp:  startedAt.UTC(),
		Path:       path,
		AudioFiles: []AudioFile{},
		MIDIFiles:  []MIDIFile{},
		VideoFiles: []VideoFile{},
	}
}

// Summary returns the list view of m.
func (m *Metadata) Summary() Summary {
	hasAudio := len(m.AudioFiles) > 0
	for _, v := range m.VideoFiles {
		hasAudio = hasAudio || v.HasAudio
	}
	return Summary{
		ID:           m.ID,
		Timestamp:    m.Timestamp,
		DurationSecs: m.DurationSecs,
		HasAudio:     hasAudio,
		HasMIDI:      len(m.MIDIFiles) > 0,
		HasVideo:     len(m.VideoFiles) > 0,
		IsFavorite:   m.IsFavorite,
		Notes:        m.Notes,
	}
}

// Save writes m to session.json in its directory through a temporary file.
func Save(m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryValidation).
			Context("operation", "marshal_metadata").
			Build()
	}

	target := filepath.Join(m.Path, MetadataFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "write_metadata").
			Context("path", target).
			Build()
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_metadata").
			Context("path", target).
			Build()
	}
	return nil
}

// Load reads session.json from dir.
func Load(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "read_metadata").
			Build()
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryValidation).
			Context("operation", "parse_metadata").
			Build()
	}
	m.Path = dir
	return &m, nil
}
