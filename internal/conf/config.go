// Package conf provides configuration management for the recorder.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Pre-roll ceilings. Buffering encoded frames allows a longer window.
const (
	MaxPreRollSecs        = 5
	MaxPreRollSecsEncoded = 30
)

// Settings is the root of the configuration tree.
type Settings struct {
	Debug        bool                 `yaml:"debug" mapstructure:"debug"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Recording    RecordingSettings    `yaml:"recording" mapstructure:"recording"`
	MIDI         MIDISettings         `yaml:"midi" mapstructure:"midi"`
	Audio        AudioSettings        `yaml:"audio" mapstructure:"audio"`
	Video        VideoSettings        `yaml:"video" mapstructure:"video"`
	FFmpeg       FFmpegSettings       `yaml:"ffmpeg" mapstructure:"ffmpeg"`
	Datastore    DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	API          APISettings          `yaml:"api" mapstructure:"api"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
}

// RecordingSettings controls session layout, pre-roll and auto stop.
type RecordingSettings struct {
	StoragePath         string  `yaml:"storage_path" mapstructure:"storage_path"`
	PreRollSecs         int     `yaml:"pre_roll_secs" mapstructure:"pre_roll_secs"`
	EncodeDuringPreroll bool    `yaml:"encode_during_preroll" mapstructure:"encode_during_preroll"`
	IdleTimeoutSecs     int     `yaml:"idle_timeout_secs" mapstructure:"idle_timeout_secs"`
	AudioFormat         string  `yaml:"audio_format" mapstructure:"audio_format"` // wav or flac
	BitDepth            string  `yaml:"bit_depth" mapstructure:"bit_depth"`       // 16, 24 or 32f
	CombineAudioVideo   bool    `yaml:"combine_audio_video" mapstructure:"combine_audio_video"`
	PadToleranceSecs    float64 `yaml:"pad_tolerance_secs" mapstructure:"pad_tolerance_secs"`
	MinFreeSpaceMB      uint64  `yaml:"min_free_space_mb" mapstructure:"min_free_space_mb"`
}

// PreRoll returns the configured pre-roll as a duration.
func (r *RecordingSettings) PreRoll() time.Duration {
	return time.Duration(r.PreRollSecs) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration.
func (r *RecordingSettings) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutSecs) * time.Second
}

// PadTolerance returns the padding tolerance as a duration.
func (r *RecordingSettings) PadTolerance() time.Duration {
	return time.Duration(r.PadToleranceSecs * float64(time.Second))
}

// MaxPreRoll returns the pre-roll ceiling that applies to the current mode.
func (r *RecordingSettings) MaxPreRoll() int {
	if r.EncodeDuringPreroll {
		return MaxPreRollSecsEncoded
	}
	return MaxPreRollSecs
}

// MIDISettings selects MIDI input ports by name.
type MIDISettings struct {
	TriggerDevices []string `yaml:"trigger_devices" mapstructure:"trigger_devices"`
	RecordDevices  []string `yaml:"record_devices" mapstructure:"record_devices"`
}

// AudioDevice selects one audio input.
type AudioDevice struct {
	Name       string `yaml:"name" mapstructure:"name"`
	SampleRate int    `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels   int    `yaml:"channels" mapstructure:"channels"`
}

// AudioTriggerSettings configures level based triggering.
type AudioTriggerSettings struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	Devices   []string `yaml:"devices" mapstructure:"devices"`
	Threshold float64  `yaml:"threshold" mapstructure:"threshold"`
}

// AudioSettings lists audio inputs.
type AudioSettings struct {
	Devices []AudioDevice        `yaml:"devices" mapstructure:"devices"`
	Trigger AudioTriggerSettings `yaml:"trigger" mapstructure:"trigger"`
}

// VideoDevice configures capture and encoding for one camera.
type VideoDevice struct {
	ID               string  `yaml:"id" mapstructure:"id"`
	Name             string  `yaml:"name" mapstructure:"name"`
	Input            string  `yaml:"input" mapstructure:"input"` // e.g. /dev/video0
	Width            int     `yaml:"width" mapstructure:"width"`
	Height           int     `yaml:"height" mapstructure:"height"`
	FPS              float64 `yaml:"fps" mapstructure:"fps"`
	PixelFormat      string  `yaml:"pixel_format" mapstructure:"pixel_format"`
	Codec            string  `yaml:"codec" mapstructure:"codec"`     // av1, vp8, vp9, ffv1, h264
	Backend          string  `yaml:"backend" mapstructure:"backend"` // auto, software, nvenc, qsv, vaapi, amf
	Preset           int     `yaml:"preset" mapstructure:"preset"`
	KeyframeInterval int     `yaml:"keyframe_interval" mapstructure:"keyframe_interval"`
	QueueSize        int     `yaml:"queue_size" mapstructure:"queue_size"`
}

// VideoSettings lists video inputs.
type VideoSettings struct {
	Devices []VideoDevice `yaml:"devices" mapstructure:"devices"`
}

// FFmpegSettings locates the ffmpeg binary. Empty path means PATH lookup.
type FFmpegSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DatastoreSettings selects the session index backend.
type DatastoreSettings struct {
	Type   string         `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

// SQLiteSettings configures the sqlite index.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings configures the mysql index.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// PasswordFile takes precedence over Password when set.
	PasswordFile string `yaml:"password_file" mapstructure:"password_file"`
	Database     string `yaml:"database" mapstructure:"database"`
}

// NotificationSettings configures lifecycle notifications.
type NotificationSettings struct {
	Enabled         bool         `yaml:"enabled" mapstructure:"enabled"`
	DedupWindowSecs int          `yaml:"dedup_window_secs" mapstructure:"dedup_window_secs"`
	Push            PushSettings `yaml:"push" mapstructure:"push"`
	MQTT            MQTTSettings `yaml:"mqtt" mapstructure:"mqtt"`
}

// PushSettings lists shoutrrr service URLs.
type PushSettings struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string `yaml:"urls" mapstructure:"urls"`
}

// MQTTSettings configures the MQTT publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// PasswordFile takes precedence over Password when set.
	PasswordFile string `yaml:"password_file" mapstructure:"password_file"`
	Topic        string `yaml:"topic" mapstructure:"topic"`
}

// APISettings configures the HTTP control API.
type APISettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsSettings toggles the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file into a new Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Sync re-reads viper into settings so bound command-line flags take
// precedence over the configuration file, then validates the result.
func Sync(settings *Settings) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return fmt.Errorf("error validating settings: %w", err)
	}
	settingsInstance = settings
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it back.
func createDefaultConfig(dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "replace-config").
			Build()
	}
	return nil
}
