package encoding

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the encoding package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("encoding")
}
