package logger

// LoggingConfig configures the CentralLogger.
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level"`
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output"`
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels"`
}

// ConsoleOutput configures human readable console logging.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput configures JSON file logging with size based rotation.
type FileOutput struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Path       string `yaml:"path" mapstructure:"path"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // megabytes
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // rotated files kept
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

const (
	defaultLogPath    = "logs/recorder.log"
	defaultMaxSizeMB  = 50
	defaultMaxAgeDays = 30
	defaultMaxBackups = 5
)

// applyConfigDefaults fills unset values so older configs keep logging.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = string(LogLevelInfo)
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput == nil {
		return
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = defaultLogPath
	}
	if cfg.FileOutput.Level == "" {
		cfg.FileOutput.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput.MaxSize <= 0 {
		cfg.FileOutput.MaxSize = defaultMaxSizeMB
	}
	if cfg.FileOutput.MaxAge <= 0 {
		cfg.FileOutput.MaxAge = defaultMaxAgeDays
	}
	if cfg.FileOutput.MaxBackups <= 0 {
		cfg.FileOutput.MaxBackups = defaultMaxBackups
	}
}
