package conf

import "github.com/tphakala/preroll-recorder/internal/logger"

// GetLogger returns the config package logger. It is fetched on each call so
// it follows the central logger installed after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

func errorField(err error) logger.Field  { return logger.Error(err) }
func pathField(path string) logger.Field { return logger.String("path", path) }
