package video

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the video package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("video")
}
