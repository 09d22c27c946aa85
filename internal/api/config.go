// Package api serves the HTTP control surface of the recorder: manual
// start and stop, live status and levels, the session index and metrics.
package api

import (
	"time"

	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = "127.0.0.1:8765"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// Stopping a session finalizes files, so it gets its own deadline.
	DefaultStopTimeout = 60 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	StopTimeout     time.Duration
	BodyLimit       string // e.g. "64K"
}

// DefaultConfig returns a Config with the default timeouts.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		StopTimeout:     DefaultStopTimeout,
		BodyLimit:       "64K",
	}
}

// ConfigFromSettings builds a Config from the api settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings != nil && settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	return cfg
}
