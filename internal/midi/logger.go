package midi

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the midi package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("midi")
}
