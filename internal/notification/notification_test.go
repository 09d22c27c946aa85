package notification

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
)

func stoppedEvent() events.RecordingEvent {
	return events.RecordingEvent{
		Kind:         events.RecordingStopped,
		SessionID:    "6f1c",
		SessionPath:  "/sessions/2026-10-17_20-15-03",
		Devices:      []string{"Keystation 49", "Scarlett 2i2"},
		DurationSecs: 42.5,
		Timestamp:    time.Date(2026, 10, 17, 20, 15, 3, 0, time.UTC),
	}
}

type recordingSink struct {
	mu   sync.Mutex
	got  []events.RecordingEvent
	fail error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, e events.RecordingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, e)
	return nil
}

func newTestMetrics(t *testing.T) *metrics.NotificationMetrics {
	t.Helper()
	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestConsumerDelivers(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	m := newTestMetrics(t)
	c := NewConsumer(sink, DefaultConsumerConfig(), m)

	assert.Equal(t, "recording", c.Name())
	require.NoError(t, c.Consume(stoppedEvent()))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "6f1c", sink.got[0].SessionID)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("recording", "success")), 0)
}

func TestConsumerWrapsSinkErrors(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fail: errors.NewStd("boom")}
	m := newTestMetrics(t)
	c := NewConsumer(sink, DefaultConsumerConfig(), m)

	err := c.Consume(stoppedEvent())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
	assert.InDelta(t, 1, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("recording", "error")), 0)
	assert.Equal(t, 1, c.Breaker().Failures())
}

func TestConsumerRateLimits(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	c := NewConsumer(sink, ConsumerConfig{RateLimit: 1, Burst: 2}, nil)

	require.NoError(t, c.Consume(stoppedEvent()))
	require.NoError(t, c.Consume(stoppedEvent()))
	require.ErrorIs(t, c.Consume(stoppedEvent()), ErrRateLimited)
	assert.Len(t, sink.got, 2)
}

func TestLogSink(t *testing.T) {
	t.Parallel()
	s := NewLogSink()
	assert.Equal(t, "log", s.Name())
	assert.NoError(t, s.Send(t.Context(), stoppedEvent()))
}

type fakeSender struct {
	message string
	params  stypes.Params
	errs    []error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.message = message
	f.params = *params
	return f.errs
}

func TestPushSinkSend(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := &PushSink{sender: fs}

	require.NoError(t, s.Send(t.Context(), stoppedEvent()))
	assert.Equal(t, "Recording stopped after 42.5s: Keystation 49, Scarlett 2i2", fs.message)
	title, ok := fs.params.Title()
	require.True(t, ok)
	assert.Equal(t, "Recording stopped", title)
}

func TestPushSinkScrubsErrors(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{errs: []error{nil, errors.NewStd("post https://hooks.example.com/s3cret failed")}}
	s := &PushSink{sender: fs}

	err := s.Send(t.Context(), stoppedEvent())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestPushSinkHonorsCancellation(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := &PushSink{sender: fs}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, s.Send(ctx, stoppedEvent()), context.Canceled)
	assert.Empty(t, fs.message)
}

func TestNewPushSink(t *testing.T) {
	t.Parallel()

	_, err := NewPushSink(nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewPushSink([]string{"nosuchservice://token@host"}, time.Second)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@host")

	s, err := NewPushSink([]string{"logger://"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "push", s.Name())
}

type fakeMQTT struct {
	mu        sync.Mutex
	connected bool
	connects  int
	topic     string
	payload   []byte
	connErr   error
}

func (f *fakeMQTT) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	return nil
}

func (f *fakeMQTT) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.payload = payload
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	t.Parallel()
	client := &fakeMQTT{}
	s := NewMQTTSink(client, "preroll-recorder/events")

	require.NoError(t, s.Send(t.Context(), stoppedEvent()))
	require.NoError(t, s.Send(t.Context(), stoppedEvent()))
	assert.Equal(t, 1, client.connects, "connects lazily once")
	assert.Equal(t, "preroll-recorder/events", client.topic)

	var got events.RecordingEvent
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, events.RecordingStopped, got.Kind)
	assert.Equal(t, []string{"Keystation 49", "Scarlett 2i2"}, got.Devices)

	s.Close()
	assert.False(t, client.IsConnected())
}

func TestMQTTSinkConnectError(t *testing.T) {
	t.Parallel()
	client := &fakeMQTT{connErr: errors.NewStd("refused")}
	s := NewMQTTSink(client, "t")
	require.Error(t, s.Send(t.Context(), stoppedEvent()))
	assert.Nil(t, client.payload)
}

func TestSetup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *conf.NotificationSettings
		wantErr bool
	}{
		{name: "nil settings", cfg: nil},
		{name: "disabled", cfg: &conf.NotificationSettings{}},
		{name: "log only", cfg: &conf.NotificationSettings{Enabled: true}},
		{
			name: "push without urls",
			cfg: &conf.NotificationSettings{
				Enabled: true,
				Push:    conf.PushSettings{Enabled: true},
			},
			wantErr: true,
		},
		{
			name: "push and mqtt",
			cfg: &conf.NotificationSettings{
				Enabled: true,
				Push:    conf.PushSettings{Enabled: true, URLs: []string{"logger://"}},
				MQTT:    conf.MQTTSettings{Enabled: true, Broker: "tcp://127.0.0.1:1883", Topic: "t"},
			},
		},
		{
			name: "push url with unset variable",
			cfg: &conf.NotificationSettings{
				Enabled: true,
				Push:    conf.PushSettings{Enabled: true, URLs: []string{"ntfy://ntfy.sh/${PREROLL_UNSET_TOPIC}"}},
			},
			wantErr: true,
		},
		{
			name: "mqtt password file missing",
			cfg: &conf.NotificationSettings{
				Enabled: true,
				MQTT: conf.MQTTSettings{
					Enabled:      true,
					Broker:       "tcp://127.0.0.1:1883",
					PasswordFile: "/nonexistent/mqtt_password",
				},
			},
			wantErr: true,
		},
		{
			name: "mqtt without broker",
			cfg: &conf.NotificationSettings{
				Enabled: true,
				MQTT:    conf.MQTTSettings{Enabled: true},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := events.NewBus(BusConfig(tt.cfg))
			t.Cleanup(func() { _ = bus.Shutdown(time.Second) })

			cleanup, err := Setup(bus, tt.cfg, nil)
			require.NotNil(t, cleanup)
			defer cleanup()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBusConfig(t *testing.T) {
	t.Parallel()
	assert.Equal(t, events.DefaultConfig().DedupWindow, BusConfig(nil).DedupWindow)
	assert.Equal(t, 5*time.Second, BusConfig(&conf.NotificationSettings{DedupWindowSecs: 5}).DedupWindow)
}
