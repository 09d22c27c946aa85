package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDeviceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Digital Piano", "Digital_Piano"},
		{"USB/MIDI:1", "USB_MIDI_1"},
		{`hw\0`, "hw_0"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeDeviceName(tt.in))
	}
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "midi_Digital_Piano.mid", MIDIFileName("Digital Piano"))
	assert.Equal(t, "video_Cam_1.webm", VideoFileName("Cam 1", "webm"))
	assert.Equal(t, "recording.wav", AudioFileName(0, 1, "wav"))
	assert.Equal(t, "recording_2.flac", AudioFileName(1, 3, "flac"))

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("X", 3600))
	assert.Equal(t, filepath.Join("store", "2024-03-09_13-05-07"), DirFor("store", at))
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := New(dir, time.Now())
	m.DurationSecs = 12.5
	m.AudioFiles = append(m.AudioFiles, AudioFile{Filename: "recording.wav", Device: "mic", DurationSecs: 12.5})
	m.VideoFiles = append(m.VideoFiles, VideoFile{Filename: "video_cam.mkv", Device: "cam", HasAudio: true})

	require.NoError(t, Save(m))
	_, err := os.Stat(filepath.Join(dir, MetadataFile+".tmp"))
	assert.True(t, os.IsNotExist(err))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.InDelta(t, 12.5, got.DurationSecs, 1e-9)
	require.Len(t, got.AudioFiles, 1)
	assert.Equal(t, "mic", got.AudioFiles[0].Device)

	s := got.Summary()
	assert.True(t, s.HasAudio)
	assert.True(t, s.HasVideo)
	assert.False(t, s.HasMIDI)
}

func TestNewHasEmptyLists(t *testing.T) {
	t.Parallel()

	m := New("x", time.Now())
	assert.NotEmpty(t, m.ID)
	assert.NotNil(t, m.AudioFiles)
	assert.NotNil(t, m.MIDIFiles)
	assert.NotNil(t, m.VideoFiles)
}
