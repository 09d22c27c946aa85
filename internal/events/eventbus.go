package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// Config holds event bus configuration.
type Config struct {
	BufferSize  int
	Workers     int
	DedupWindow time.Duration
}

// DefaultConfig returns the default event bus configuration. A single
// worker keeps started and stopped events of a session in order.
func DefaultConfig() Config {
	return Config{
		BufferSize:  256,
		Workers:     1,
		DedupWindow: 30 * time.Second,
	}
}

// Bus provides asynchronous event processing with non-blocking publishing.
type Bus struct {
	events  chan RecordingEvent
	workers int
	dedup   *Deduplicator

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu        sync.Mutex
	consumers []Consumer

	received       atomic.Uint64
	processed      atomic.Uint64
	dropped        atomic.Uint64
	consumerErrors atomic.Uint64

	log logger.Logger
}

// NewBus creates a bus. Workers start with the first registered consumer.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		events:  make(chan RecordingEvent, cfg.BufferSize),
		workers: cfg.Workers,
		dedup:   NewDeduplicator(cfg.DedupWindow),
		ctx:     ctx,
		cancel:  cancel,
		log:     GetLogger(),
	}
}

// Register adds a consumer. Names must be unique.
func (b *Bus) Register(c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return errors.Newf("consumer %s already registered", c.Name()).
				Component("events").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	b.consumers = append(b.consumers, c)
	b.log.Info("registered event consumer", logger.String("consumer", c.Name()))

	if len(b.consumers) == 1 && b.ctx.Err() == nil && !b.running.Swap(true) {
		for i := range b.workers {
			b.wg.Go(func() { b.worker(i) })
		}
	}
	return nil
}

// Publish queues an event without blocking. It returns false when the
// event was dropped or suppressed as a duplicate.
func (b *Bus) Publish(event RecordingEvent) bool {
	if b == nil || !b.running.Load() {
		return false
	}
	if !b.dedup.ShouldProcess(event) {
		b.log.Debug("duplicate event suppressed",
			logger.String("kind", string(event.Kind)),
			logger.String("session_id", event.SessionID))
		return false
	}

	select {
	case b.events <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Warn("event dropped due to full buffer", logger.String("kind", string(event.Kind)))
		return false
	}
}

func (b *Bus) worker(id int) {
	log := b.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-b.ctx.Done():
			// deliver what was accepted before shutdown
			for {
				select {
				case event := <-b.events:
					b.process(event, log)
				default:
					return
				}
			}
		case event := <-b.events:
			b.process(event, log)
		}
	}
}

func (b *Bus) process(event RecordingEvent, log logger.Logger) {
	b.mu.Lock()
	consumers := append([]Consumer(nil), b.consumers...)
	b.mu.Unlock()

	for _, c := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.consumerErrors.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", c.Name()),
						logger.String("panic", fmt.Sprint(r)))
				}
			}()
			if err := c.Consume(event); err != nil {
				b.consumerErrors.Add(1)
				log.Error("consumer error",
					logger.String("consumer", c.Name()),
					logger.String("kind", string(event.Kind)),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Context("timeout", timeout.String()).
			Build()
	}
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Received:       b.received.Load(),
		Processed:      b.processed.Load(),
		Dropped:        b.dropped.Load(),
		Suppressed:     b.dedup.Suppressed(),
		ConsumerErrors: b.consumerErrors.Load(),
	}
}
