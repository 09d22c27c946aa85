package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingConsumer struct {
	name string
	fail bool

	mu     sync.Mutex
	events []RecordingEvent
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Consume(e RecordingEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	if c.fail {
		return errors.NewStd("sink unavailable")
	}
	return nil
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type panickingConsumer struct{}

func (panickingConsumer) Name() string                 { return "panics" }
func (panickingConsumer) Consume(RecordingEvent) error { panic("boom") }

func TestPublishWithoutConsumersIsDropped(t *testing.T) {
	b := NewBus(DefaultConfig())
	defer func() { require.NoError(t, b.Shutdown(time.Second)) }()

	assert.False(t, b.Publish(RecordingEvent{Kind: RecordingStarted, SessionID: "a"}))
}

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus(Config{BufferSize: 8, Workers: 1})
	c := &recordingConsumer{name: "log"}
	require.NoError(t, b.Register(c))

	assert.True(t, b.Publish(RecordingEvent{Kind: RecordingStarted, SessionID: "s1"}))
	assert.True(t, b.Publish(RecordingEvent{Kind: RecordingStopped, SessionID: "s1"}))
	require.NoError(t, b.Shutdown(time.Second))

	require.Equal(t, 2, c.count())
	assert.Equal(t, RecordingStarted, c.events[0].Kind)
	assert.Equal(t, RecordingStopped, c.events[1].Kind)
	assert.Equal(t, uint64(2), b.Stats().Processed)
	assert.False(t, b.Publish(RecordingEvent{Kind: RecordingStarted, SessionID: "s2"}))
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	b := NewBus(DefaultConfig())
	defer func() { require.NoError(t, b.Shutdown(time.Second)) }()

	require.NoError(t, b.Register(&recordingConsumer{name: "push"}))
	err := b.Register(&recordingConsumer{name: "push"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestConsumerFailuresAreCounted(t *testing.T) {
	b := NewBus(Config{Workers: 1})
	ok := &recordingConsumer{name: "ok"}
	require.NoError(t, b.Register(&recordingConsumer{name: "failing", fail: true}))
	require.NoError(t, b.Register(panickingConsumer{}))
	require.NoError(t, b.Register(ok))

	require.True(t, b.Publish(RecordingEvent{Kind: RecordingStarted, SessionID: "s"}))
	require.NoError(t, b.Shutdown(time.Second))

	assert.Equal(t, 1, ok.count())
	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.ConsumerErrors)
	assert.Equal(t, uint64(1), stats.Processed)
}

func TestDuplicatesSuppressedInsideWindow(t *testing.T) {
	b := NewBus(Config{Workers: 1, DedupWindow: time.Minute})
	c := &recordingConsumer{name: "mqtt"}
	require.NoError(t, b.Register(c))

	ev := RecordingEvent{Kind: RecordingStopped, SessionID: "s"}
	assert.True(t, b.Publish(ev))
	assert.False(t, b.Publish(ev))
	assert.True(t, b.Publish(RecordingEvent{Kind: RecordingStarted, SessionID: "s"}))
	require.NoError(t, b.Shutdown(time.Second))

	assert.Equal(t, 2, c.count())
	assert.Equal(t, uint64(1), b.Stats().Suppressed)
}

func TestDeduplicatorWindowExpires(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(20 * time.Millisecond)
	ev := RecordingEvent{Kind: RecordingStarted, SessionID: "x"}
	assert.True(t, d.ShouldProcess(ev))
	assert.False(t, d.ShouldProcess(ev))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, d.ShouldProcess(ev))

	var disabled *Deduplicator
	assert.True(t, disabled.ShouldProcess(ev))
	assert.Nil(t, NewDeduplicator(0))
}

func TestEventMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		event RecordingEvent
		want  string
	}{
		{RecordingEvent{Kind: RecordingStarted, Devices: []string{"Piano", "Cam"}}, "Recording started: Piano, Cam"},
		{RecordingEvent{Kind: RecordingStopped, DurationSecs: 12.34}, "Recording stopped after 12.3s"},
		{RecordingEvent{Kind: RecordingStopped}, "Recording stopped"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.Message())
	}
}
