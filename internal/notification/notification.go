// Package notification delivers recording lifecycle events to external
// services. Each sink is wrapped in a consumer that rate limits deliveries
// and stops calling a failing service through a circuit breaker.
package notification

import (
	"context"

	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// GetLogger returns the notification package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// Sink delivers one event to an external service.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Send delivers the event. It must honor ctx cancellation.
	Send(ctx context.Context, event events.RecordingEvent) error
}
