package audiofile

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the audiofile package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audiofile")
}
