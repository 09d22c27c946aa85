// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

var (
	validAudioFormats = []string{"wav", "flac"}
	validBitDepths    = []string{"16", "24", "32f"}
	validVideoCodecs  = []string{"av1", "vp8", "vp9", "ffv1", "h264"}
	validBackends     = []string{"", "auto", "software", "nvenc", "qsv", "vaapi", "amf"}
	validDatastores   = []string{"sqlite", "mysql"}
)

// ValidateSettings validates the entire Settings struct. Missing per-device
// values are filled with defaults before checking.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateRecordingSettings(&settings.Recording); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateVideoSettings(&settings.Video); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateDatastoreSettings(&settings.Datastore); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.API.Enabled && settings.API.Listen == "" {
		ve.Errors = append(ve.Errors, "api.listen is required when the API is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateRecordingSettings(r *RecordingSettings) error {
	var problems []string

	if r.StoragePath == "" {
		problems = append(problems, "storage_path must not be empty")
	}
	if limit := r.MaxPreRoll(); r.PreRollSecs < 0 || r.PreRollSecs > limit {
		problems = append(problems, fmt.Sprintf("pre_roll_secs must be between 0 and %d, got %d", limit, r.PreRollSecs))
	}
	if r.IdleTimeoutSecs < 0 {
		problems = append(problems, "idle_timeout_secs must not be negative")
	}
	r.AudioFormat = strings.ToLower(r.AudioFormat)
	if !slices.Contains(validAudioFormats, r.AudioFormat) {
		problems = append(problems, fmt.Sprintf("audio_format must be one of %v, got %q", validAudioFormats, r.AudioFormat))
	}
	if !slices.Contains(validBitDepths, r.BitDepth) {
		problems = append(problems, fmt.Sprintf("bit_depth must be one of %v, got %q", validBitDepths, r.BitDepth))
	}
	if r.PadToleranceSecs < 0 {
		problems = append(problems, "pad_tolerance_secs must not be negative")
	}

	return joinProblems("recording", problems)
}

func validateAudioSettings(a *AudioSettings) error {
	var problems []string

	for i := range a.Devices {
		dev := &a.Devices[i]
		if dev.Name == "" {
			problems = append(problems, fmt.Sprintf("devices[%d].name must not be empty", i))
		}
		if dev.SampleRate == 0 {
			dev.SampleRate = 48000
		}
		if dev.Channels == 0 {
			dev.Channels = 2
		}
		if dev.SampleRate < 8000 || dev.SampleRate > 192000 {
			problems = append(problems, fmt.Sprintf("devices[%d].sample_rate %d out of range", i, dev.SampleRate))
		}
		if dev.Channels < 1 || dev.Channels > 8 {
			problems = append(problems, fmt.Sprintf("devices[%d].channels %d out of range", i, dev.Channels))
		}
	}
	if a.Trigger.Threshold <= 0 || a.Trigger.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("trigger.threshold must be in (0, 1], got %g", a.Trigger.Threshold))
	}

	return joinProblems("audio", problems)
}

func validateVideoSettings(v *VideoSettings) error {
	var problems []string
	seen := make(map[string]bool)

	for i := range v.Devices {
		dev := &v.Devices[i]
		if dev.ID == "" {
			dev.ID = fmt.Sprintf("video-%d", i)
		}
		if dev.Name == "" {
			dev.Name = dev.ID
		}
		if seen[dev.ID] {
			problems = append(problems, fmt.Sprintf("devices[%d].id %q is duplicated", i, dev.ID))
		}
		seen[dev.ID] = true
		if dev.Input == "" {
			problems = append(problems, fmt.Sprintf("devices[%d].input must not be empty", i))
		}
		if dev.Width <= 0 || dev.Height <= 0 {
			problems = append(problems, fmt.Sprintf("devices[%d] needs a positive width and height", i))
		}
		if dev.FPS <= 0 {
			problems = append(problems, fmt.Sprintf("devices[%d].fps must be positive", i))
		}
		if dev.PixelFormat == "" {
			dev.PixelFormat = "nv12"
		}
		dev.Codec = strings.ToLower(dev.Codec)
		if dev.Codec == "" {
			dev.Codec = "vp9"
		}
		if !slices.Contains(validVideoCodecs, dev.Codec) {
			problems = append(problems, fmt.Sprintf("devices[%d].codec must be one of %v", i, validVideoCodecs))
		}
		dev.Backend = strings.ToLower(dev.Backend)
		if !slices.Contains(validBackends, dev.Backend) {
			problems = append(problems, fmt.Sprintf("devices[%d].backend %q is not supported", i, dev.Backend))
		}
		if dev.KeyframeInterval <= 0 {
			dev.KeyframeInterval = 60
		}
		if dev.QueueSize <= 0 {
			dev.QueueSize = max(int(dev.FPS*2), 1)
		}
	}

	return joinProblems("video", problems)
}

func validateDatastoreSettings(d *DatastoreSettings) error {
	var problems []string
	if !slices.Contains(validDatastores, d.Type) {
		problems = append(problems, fmt.Sprintf("type must be one of %v, got %q", validDatastores, d.Type))
	}
	if d.Type == "sqlite" && d.SQLite.Path == "" {
		problems = append(problems, "sqlite.path must not be empty")
	}
	if d.Type == "mysql" && (d.MySQL.Host == "" || d.MySQL.Database == "") {
		problems = append(problems, "mysql.host and mysql.database are required")
	}
	return joinProblems("datastore", problems)
}

func validateNotificationSettings(n *NotificationSettings) error {
	var problems []string
	if n.Push.Enabled && len(n.Push.URLs) == 0 {
		problems = append(problems, "push.urls requires at least one URL when push is enabled")
	}
	if n.MQTT.Enabled && n.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when MQTT is enabled")
	}
	if n.DedupWindowSecs < 0 {
		problems = append(problems, "dedup_window_secs must not be negative")
	}
	return joinProblems("notification", problems)
}

func joinProblems(section string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", section, strings.Join(problems, "; "))
}
