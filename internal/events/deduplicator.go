package events

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// Deduplicator suppresses repeats of an event key inside a time window.
// A nil Deduplicator lets everything through.
type Deduplicator struct {
	seen       *cache.Cache
	suppressed atomic.Uint64
}

// NewDeduplicator returns nil for a non-positive window. Expired keys are
// purged on use, so no janitor goroutine is started.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		return nil
	}
	return &Deduplicator{seen: cache.New(window, 0)}
}

// ShouldProcess reports whether event is the first of its key in the window.
func (d *Deduplicator) ShouldProcess(event RecordingEvent) bool {
	if d == nil {
		return true
	}
	d.seen.DeleteExpired()
	if err := d.seen.Add(event.Key(), struct{}{}, cache.DefaultExpiration); err != nil {
		d.suppressed.Add(1)
		return false
	}
	return true
}

// Suppressed returns the number of suppressed events.
func (d *Deduplicator) Suppressed() uint64 {
	if d == nil {
		return 0
	}
	return d.suppressed.Load()
}
