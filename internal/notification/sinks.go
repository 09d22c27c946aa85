package notification

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/mqtt"
	"github.com/tphakala/preroll-recorder/internal/privacy"
)

// LogSink writes events to the structured log.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink() *LogSink {
	return &LogSink{log: GetLogger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, event events.RecordingEvent) error {
	fields := []logger.Field{
		logger.String("kind", string(event.Kind)),
		logger.String("session_id", event.SessionID),
		logger.String("path", event.SessionPath),
		logger.Any("devices", event.Devices),
	}
	if event.Kind == events.RecordingStopped {
		fields = append(fields, logger.Float64("duration_secs", event.DurationSecs))
	}
	s.log.Info(event.Title(), fields...)
	return nil
}

// sender is the part of the shoutrrr router the push sink uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// PushSink sends events through shoutrrr service URLs.
type PushSink struct {
	sender sender
}

// NewPushSink builds a shoutrrr router for urls. Errors never include the
// URLs since they carry service tokens.
func NewPushSink(urls []string, timeout time.Duration) (*PushSink, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return &PushSink{sender: router}, nil
}

func (s *PushSink) Name() string { return "push" }

func (s *PushSink) Send(ctx context.Context, event events.RecordingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	params.SetTitle(event.Title())
	for _, err := range s.sender.Send(event.Message(), &params) {
		if err != nil {
			return privacy.WrapError(err)
		}
	}
	return nil
}

// MQTTSink publishes events as JSON to a broker topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink creates a sink publishing to topic. The connection is made on
// first use so a missing broker does not delay startup.
func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, event events.RecordingEvent) error {
	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryGeneric).
			Build()
	}
	return s.client.Publish(ctx, s.topic, payload)
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect()
}
