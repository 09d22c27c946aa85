// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/recorder.log")
	viper.SetDefault("logging.file_output.level", "debug")
	viper.SetDefault("logging.file_output.max_size", 50)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_backups", 5)
	viper.SetDefault("logging.file_output.compress", true)

	viper.SetDefault("recording.storage_path", "sessions")
	viper.SetDefault("recording.pre_roll_secs", 2)
	viper.SetDefault("recording.encode_during_preroll", false)
	viper.SetDefault("recording.idle_timeout_secs", 10)
	viper.SetDefault("recording.audio_format", "wav")
	viper.SetDefault("recording.bit_depth", "24")
	viper.SetDefault("recording.combine_audio_video", false)
	viper.SetDefault("recording.pad_tolerance_secs", 0.1)
	viper.SetDefault("recording.min_free_space_mb", 1024)

	viper.SetDefault("midi.trigger_devices", []string{})
	viper.SetDefault("midi.record_devices", []string{})

	viper.SetDefault("audio.devices", []map[string]any{})
	viper.SetDefault("audio.trigger.enabled", false)
	viper.SetDefault("audio.trigger.devices", []string{})
	viper.SetDefault("audio.trigger.threshold", 0.1)

	viper.SetDefault("video.devices", []map[string]any{})

	viper.SetDefault("ffmpeg.path", "")

	viper.SetDefault("datastore.type", "sqlite")
	viper.SetDefault("datastore.sqlite.path", "sessions/sessions.db")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.database", "recorder")

	viper.SetDefault("notification.enabled", true)
	viper.SetDefault("notification.dedup_window_secs", 5)
	viper.SetDefault("notification.push.enabled", false)
	viper.SetDefault("notification.push.urls", []string{})
	viper.SetDefault("notification.mqtt.enabled", false)
	viper.SetDefault("notification.mqtt.client_id", "preroll-recorder")
	viper.SetDefault("notification.mqtt.topic", "preroll-recorder/events")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8765")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("metrics.enabled", true)
}
