package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/buildinfo"
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/encoding"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	s := &conf.Settings{}
	s.Recording = conf.RecordingSettings{
		StoragePath:      dir,
		PreRollSecs:      3,
		IdleTimeoutSecs:  20,
		AudioFormat:      "flac",
		BitDepth:         "24",
		PadToleranceSecs: 0.1,
	}
	s.MIDI = conf.MIDISettings{TriggerDevices: []string{"Keystation 49"}, RecordDevices: []string{"Drum Pad"}}
	s.Audio = conf.AudioSettings{
		Devices: []conf.AudioDevice{{Name: "Scarlett 2i2", SampleRate: 48000, Channels: 2}},
		Trigger: conf.AudioTriggerSettings{Devices: []string{"Scarlett 2i2"}, Threshold: 0.2},
	}
	s.Datastore = conf.DatastoreSettings{Type: "sqlite", SQLite: conf.SQLiteSettings{Path: filepath.Join(dir, "sessions.db")}}
	return s
}

func TestRecordingConfig(t *testing.T) {
	t.Parallel()
	s := testSettings(t)

	cfg, err := recordingConfig(s, "")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PreRoll)
	assert.Equal(t, audiofile.Format{Container: audiofile.FLAC, Depth: audiofile.Depth24}, cfg.Format)
	assert.Equal(t, 100*time.Millisecond, cfg.PadTolerance)
	assert.Equal(t, []string{"Keystation 49"}, cfg.TriggerMIDI)
	assert.Equal(t, []string{"Drum Pad"}, cfg.RecordMIDI)
	require.Len(t, cfg.Audio, 1)
	assert.Equal(t, 48000, cfg.Audio[0].SampleRate)
	assert.Empty(t, cfg.AudioTrigger, "level trigger disabled")
	assert.False(t, cfg.CombineAudioVideo, "nothing to combine without cameras")

	s.Audio.Trigger.Enabled = true
	cfg, err = recordingConfig(s, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Scarlett 2i2"}, cfg.AudioTrigger)
	assert.InDelta(t, 0.2, cfg.AudioThreshold, 1e-9)

	s.Recording.AudioFormat = "mp3"
	_, err = recordingConfig(s, "")
	require.Error(t, err)
}

func TestVideoDevices(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.Video.Devices = []conf.VideoDevice{
		{ID: "cam-0", Name: "Desk Cam", Input: "/dev/video0", Width: 1280, Height: 720, FPS: 30, PixelFormat: "nv12", Codec: "av1"},
	}

	devices, byID, err := videoDevices(s, "/usr/bin/ffmpeg")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, encoding.CodecAV1, devices[0].Config.Codec)
	assert.Equal(t, "/usr/bin/ffmpeg", devices[0].Config.Source.FFmpegPath)
	assert.Equal(t, "Desk Cam", devices[0].Config.Source.Name)
	assert.Contains(t, byID, "cam-0")

	s.Video.Devices[0].Codec = "theora"
	_, _, err = videoDevices(s, "")
	require.Error(t, err)

	s.Video.Devices[0].Codec = "vp9"
	s.Video.Devices[0].Backend = "glide"
	_, _, err = videoDevices(s, "")
	require.Error(t, err)
}

func TestNewWiresComponents(t *testing.T) {
	s := testSettings(t)
	s.Metrics.Enabled = true
	s.API = conf.APISettings{Enabled: true, Listen: "127.0.0.1:0"}
	s.Notification.Enabled = true

	svc, err := New(s, &buildinfo.Context{Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, svc.Coordinator())
	assert.NotNil(t, svc.metrics)
	assert.NotNil(t, svc.server)
	assert.False(t, svc.Coordinator().IsRecording())
	svc.close()
}

func TestNewRejectsBadDatastore(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.Datastore.Type = "postgres"
	_, err := New(s, nil)
	require.Error(t, err)
}
