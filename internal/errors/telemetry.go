// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	hasActiveReporting atomic.Bool
	reporterMu         sync.RWMutex
	telemetryReporter  TelemetryReporter
)

// SetTelemetryReporter installs the reporter used by Build. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := telemetryReporter
	reporterMu.RUnlock()

	if reporter == nil || !reporter.IsEnabled() || ee.IsReported() {
		return
	}
	reporter.ReportError(ee)
	ee.MarkReported()
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// InitSentry initializes the Sentry client and returns a reporter bound to it.
func InitSentry(dsn, release string) (*SentryReporter, error) {
	if dsn == "" {
		return &SentryReporter{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return nil, New(err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	return &SentryReporter{enabled: true}, nil
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		scrubbed := make(map[string]any)
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scrubbed[key] = value
		}
		scope.SetContext("error", scrubbed)
		scope.SetLevel(levelForCategory(ee.Category))

		sentry.CaptureMessage(message)
	})
}

// Flush waits for buffered events to be sent.
func (sr *SentryReporter) Flush(timeout time.Duration) {
	if sr.enabled {
		sentry.Flush(timeout)
	}
}

func levelForCategory(category ErrorCategory) sentry.Level {
	switch category {
	case CategorySystem, CategoryFileIO, CategoryDatabase:
		return sentry.LevelError
	case CategoryValidation, CategoryNotFound, CategoryState:
		return sentry.LevelInfo
	default:
		return sentry.LevelWarning
	}
}

var (
	unixPathPattern    = regexp.MustCompile(`(/[^/\s:]+)+/?`)
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\s:]*`)
	quotedNamePattern  = regexp.MustCompile(`"[^"]*"`)
)

// scrubMessage removes file system paths and quoted device names.
func scrubMessage(msg string) string {
	msg = windowsPathPattern.ReplaceAllString(msg, "[path]")
	msg = unixPathPattern.ReplaceAllString(msg, "[path]")
	return quotedNamePattern.ReplaceAllString(msg, `"[name]"`)
}
