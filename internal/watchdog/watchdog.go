// Package watchdog stops sessions after a period without trigger activity.
package watchdog

import (
	"context"
	"time"

	"github.com/tphakala/preroll-recorder/internal/logger"
)

// CheckInterval is how often the watchdog looks at the recorder.
const CheckInterval = time.Second

// Target is the recorder the watchdog supervises.
type Target interface {
	TriggerArmed() bool
	IsRecording() bool
	RecordingStartedAt() (time.Time, bool)
	LastActivity() (time.Time, bool)
	StopIdle(ctx context.Context) error
}

// Watchdog stops a running session once no trigger or note activity has
// been seen for the idle timeout.
type Watchdog struct {
	target  Target
	timeout time.Duration
	now     func() time.Time
	log     logger.Logger
}

// New creates a watchdog. A timeout of zero or less disables it.
func New(target Target, timeout time.Duration) *Watchdog {
	return &Watchdog{
		target:  target,
		timeout: timeout,
		now:     time.Now,
		log:     logger.Global().Module("watchdog"),
	}
}

// Run checks the target every CheckInterval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		w.log.Info("idle watchdog disabled")
		return
	}
	w.log.Info("idle watchdog started", logger.Duration("timeout", w.timeout))

	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check stops the session when it has been idle for the timeout. It
// reports whether a stop was requested.
//
// A session younger than the timeout is never stopped, so a stale
// activity timestamp cannot end a session that was slow to start.
// Sessions without recorded activity, such as manual ones, are left alone.
func (w *Watchdog) Check(ctx context.Context) bool {
	if w.timeout <= 0 || !w.target.TriggerArmed() || !w.target.IsRecording() {
		return false
	}
	now := w.now()
	if started, ok := w.target.RecordingStartedAt(); ok && now.Sub(started) < w.timeout {
		return false
	}
	last, ok := w.target.LastActivity()
	if !ok || now.Sub(last) < w.timeout {
		return false
	}

	w.log.Info("idle timeout reached, stopping recording",
		logger.Duration("timeout", w.timeout),
		logger.Duration("idle", now.Sub(last)))
	if err := w.target.StopIdle(ctx); err != nil {
		w.log.Warn("idle stop failed", logger.Error(err))
	}
	return true
}
