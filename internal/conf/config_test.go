package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validSettings() *Settings {
	return &Settings{
		Recording: RecordingSettings{
			StoragePath:     "sessions",
			PreRollSecs:     2,
			IdleTimeoutSecs: 10,
			AudioFormat:     "wav",
			BitDepth:        "24",
		},
		Audio: AudioSettings{
			Devices: []AudioDevice{{Name: "USB Audio"}},
			Trigger: AudioTriggerSettings{Threshold: 0.1},
		},
		Video: VideoSettings{
			Devices: []VideoDevice{{Input: "/dev/video0", Width: 640, Height: 480, FPS: 30}},
		},
		Datastore: DatastoreSettings{Type: "sqlite", SQLite: SQLiteSettings{Path: "sessions.db"}},
		API:       APISettings{Enabled: true, Listen: "127.0.0.1:8765"},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{
			name:    "pre-roll above raw ceiling",
			mutate:  func(s *Settings) { s.Recording.PreRollSecs = 6 },
			wantErr: "pre_roll_secs must be between 0 and 5",
		},
		{
			name: "pre-roll allowed when encoding during pre-roll",
			mutate: func(s *Settings) {
				s.Recording.PreRollSecs = 20
				s.Recording.EncodeDuringPreroll = true
			},
		},
		{
			name:    "unknown audio format",
			mutate:  func(s *Settings) { s.Recording.AudioFormat = "mp3" },
			wantErr: "audio_format must be one of",
		},
		{
			name:    "unknown bit depth",
			mutate:  func(s *Settings) { s.Recording.BitDepth = "8" },
			wantErr: "bit_depth must be one of",
		},
		{
			name:    "threshold out of range",
			mutate:  func(s *Settings) { s.Audio.Trigger.Threshold = 1.5 },
			wantErr: "trigger.threshold",
		},
		{
			name:    "unsupported codec",
			mutate:  func(s *Settings) { s.Video.Devices[0].Codec = "mpeg2" },
			wantErr: "codec must be one of",
		},
		{
			name: "duplicate video ids",
			mutate: func(s *Settings) {
				s.Video.Devices = append(s.Video.Devices, s.Video.Devices[0])
				s.Video.Devices[0].ID = "cam"
				s.Video.Devices[1].ID = "cam"
			},
			wantErr: "is duplicated",
		},
		{
			name:    "mysql without host",
			mutate:  func(s *Settings) { s.Datastore.Type = "mysql" },
			wantErr: "mysql.host and mysql.database are required",
		},
		{
			name:    "push without urls",
			mutate:  func(s *Settings) { s.Notification.Push.Enabled = true },
			wantErr: "push.urls",
		},
		{
			name:    "api without listen address",
			mutate:  func(s *Settings) { s.API.Listen = "" },
			wantErr: "api.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_FillsDeviceDefaults(t *testing.T) {
	t.Parallel()

	s := validSettings()
	require.NoError(t, ValidateSettings(s))

	audio := s.Audio.Devices[0]
	assert.Equal(t, 48000, audio.SampleRate)
	assert.Equal(t, 2, audio.Channels)

	video := s.Video.Devices[0]
	assert.Equal(t, "video-0", video.ID)
	assert.Equal(t, "video-0", video.Name)
	assert.Equal(t, "nv12", video.PixelFormat)
	assert.Equal(t, "vp9", video.Codec)
	assert.Equal(t, 60, video.KeyframeInterval)
	assert.Equal(t, 60, video.QueueSize)
}

func TestRecordingSettingsDurations(t *testing.T) {
	t.Parallel()

	r := RecordingSettings{PreRollSecs: 3, IdleTimeoutSecs: 10, PadToleranceSecs: 0.25}
	assert.Equal(t, "3s", r.PreRoll().String())
	assert.Equal(t, "10s", r.IdleTimeout().String())
	assert.Equal(t, "250ms", r.PadTolerance().String())
	assert.Equal(t, MaxPreRollSecs, r.MaxPreRoll())

	r.EncodeDuringPreroll = true
	assert.Equal(t, MaxPreRollSecsEncoded, r.MaxPreRoll())
}

// The embedded default config must pass validation after unmarshaling.
func TestEmbeddedConfigIsValid(t *testing.T) {
	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytesReader(data)))

	s := &Settings{}
	require.NoError(t, v.Unmarshal(s))
	require.NoError(t, ValidateSettings(s))
	assert.Equal(t, 2, s.Recording.PreRollSecs)
}

func TestSaveYAMLConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	s := validSettings()
	s.MIDI.TriggerDevices = []string{"Digital Piano"}

	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Settings
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, s.MIDI.TriggerDevices, got.MIDI.TriggerDevices)
	assert.Equal(t, s.Recording.StoragePath, got.Recording.StoragePath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be renamed away")
}

func TestValidateToolPath(t *testing.T) {
	t.Parallel()

	_, err := ValidateToolPath("/nonexistent/tool", "definitely-not-a-real-tool-name")
	require.Error(t, err)
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// Flags bound to viper override the file values on Sync.
func TestSyncAppliesOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaultConfig()
	viper.Set("recording.pre_roll_secs", 4)
	viper.Set("recording.storage_path", "/tmp/takes")

	s := &Settings{}
	require.NoError(t, Sync(s))
	assert.Equal(t, 4, s.Recording.PreRollSecs)
	assert.Equal(t, "/tmp/takes", s.Recording.StoragePath)
	assert.Same(t, s, GetSettings())

	viper.Set("recording.pre_roll_secs", 9)
	require.Error(t, Sync(&Settings{}), "9s exceeds the pre-roll ceiling")
}

func TestGetBasePathExpandsAndCreates(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PREROLL_TEST_ROOT", root)

	got := GetBasePath("$PREROLL_TEST_ROOT/takes/")
	assert.Equal(t, filepath.Join(root, "takes"), got)
	assert.DirExists(t, got)
}
