package notification

import (
	"time"

	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/mqtt"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
	"github.com/tphakala/preroll-recorder/internal/privacy"
	"github.com/tphakala/preroll-recorder/internal/secrets"
)

// BusConfig returns the event bus configuration for settings.
func BusConfig(s *conf.NotificationSettings) events.Config {
	cfg := events.DefaultConfig()
	if s != nil && s.DedupWindowSecs > 0 {
		cfg.DedupWindow = time.Duration(s.DedupWindowSecs) * time.Second
	}
	return cfg
}

// Setup registers the configured sinks on bus. The returned cleanup
// releases sink connections and is safe to call when Setup fails.
func Setup(bus *events.Bus, s *conf.NotificationSettings, m *metrics.NotificationMetrics) (func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	log := GetLogger()

	if s == nil || !s.Enabled {
		log.Info("notifications disabled")
		return cleanup, nil
	}

	cfg := DefaultConsumerConfig()
	sinks := []Sink{NewLogSink()}

	if s.Push.Enabled {
		urls := make([]string, 0, len(s.Push.URLs))
		for _, u := range s.Push.URLs {
			expanded, err := secrets.ExpandString(u)
			if err != nil {
				return cleanup, err
			}
			urls = append(urls, expanded)
		}
		push, err := NewPushSink(urls, cfg.SendTimeout)
		if err != nil {
			return cleanup, err
		}
		sinks = append(sinks, push)
		redacted := make([]string, 0, len(s.Push.URLs))
		for _, u := range s.Push.URLs {
			redacted = append(redacted, privacy.RedactURL(u))
		}
		log.Info("push notifications enabled", logger.Any("services", redacted))
	}

	if s.MQTT.Enabled {
		mqttCfg := mqtt.ConfigFrom(&s.MQTT)
		password, err := secrets.Resolve(s.MQTT.PasswordFile, s.MQTT.Password)
		if err != nil {
			return cleanup, err
		}
		mqttCfg.Password = password
		client, err := mqtt.NewClient(mqttCfg)
		if err != nil {
			return cleanup, err
		}
		sink := NewMQTTSink(client, s.MQTT.Topic)
		closers = append(closers, sink.Close)
		sinks = append(sinks, sink)
		log.Info("mqtt notifications enabled",
			logger.String("broker", privacy.RedactURL(s.MQTT.Broker)),
			logger.String("topic", s.MQTT.Topic))
	}

	for _, sink := range sinks {
		if err := bus.Register(NewConsumer(sink, cfg, m)); err != nil {
			return cleanup, errors.New(err).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Context("sink", sink.Name()).
				Build()
		}
	}
	return cleanup, nil
}
