package notification

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
)

// ErrRateLimited is returned when a sink exceeds its delivery budget.
var ErrRateLimited = errors.NewStd("notification rate limit exceeded")

// ConsumerConfig tunes delivery to a single sink.
type ConsumerConfig struct {
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
	// RateLimit is the sustained number of deliveries per minute.
	RateLimit int
	// Burst is the number of deliveries allowed at once.
	Burst   int
	Breaker CircuitBreakerConfig
}

// DefaultConsumerConfig returns the delivery defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		SendTimeout: 10 * time.Second,
		RateLimit:   30,
		Burst:       5,
		Breaker:     DefaultCircuitBreakerConfig(),
	}
}

// Consumer adapts a Sink to the event bus.
type Consumer struct {
	sink    Sink
	timeout time.Duration
	limiter *rate.Limiter
	breaker *CircuitBreaker
	metrics *metrics.NotificationMetrics
	log     logger.Logger
}

// NewConsumer wraps sink for registration on an events.Bus. m may be nil.
func NewConsumer(sink Sink, cfg ConsumerConfig, m *metrics.NotificationMetrics) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &Consumer{
		sink:    sink,
		timeout: cfg.SendTimeout,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), cfg.Burst),
		breaker: NewCircuitBreaker(cfg.Breaker, sink.Name()),
		metrics: m,
		log:     GetLogger().With(logger.String("sink", sink.Name())),
	}
}

// Name implements events.Consumer.
func (c *Consumer) Name() string {
	return c.sink.Name()
}

// Consume implements events.Consumer.
func (c *Consumer) Consume(event events.RecordingEvent) error {
	if !c.limiter.Allow() {
		c.log.Warn("notification dropped by rate limiter",
			logger.String("kind", string(event.Kind)),
			logger.String("session_id", event.SessionID))
		c.metrics.Delivered(c.sink.Name(), 0, ErrRateLimited)
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.sink.Send(ctx, event)
	})
	took := time.Since(start)
	c.metrics.Delivered(c.sink.Name(), took, err)

	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryIntegration).
			Context("sink", c.sink.Name()).
			Context("kind", string(event.Kind)).
			Build()
	}
	c.log.Debug("notification delivered",
		logger.String("kind", string(event.Kind)),
		logger.Duration("took", took))
	return nil
}

// Breaker exposes the sink's circuit breaker for status reporting.
func (c *Consumer) Breaker() *CircuitBreaker {
	return c.breaker
}
