package events

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the events package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}
