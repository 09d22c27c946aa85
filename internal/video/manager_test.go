package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// scriptedSource emits a fixed number of frames and then idles until canceled.
type scriptedSource struct {
	frames int
	ready  chan struct{}
}

func (s *scriptedSource) Run(ctx context.Context, emit func(preroll.Frame)) error {
	now := time.Now()
	for i := range s.frames {
		emit(preroll.Frame{
			Data:       make([]byte, 24),
			PTS:        time.Duration(i) * 100 * time.Millisecond,
			Duration:   100 * time.Millisecond,
			CapturedAt: now.Add(time.Duration(i-s.frames) * 100 * time.Millisecond),
		})
	}
	close(s.ready)
	<-ctx.Done()
	return nil
}

func TestManager_RecordingLifecycle(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	sinks := map[string]*memSink{}
	factory := func(dc DeviceConfig) EncoderFactory {
		s := &memSink{}
		sinks[dc.Source.Name] = s
		return sinkFactory(s, clock, 64)
	}

	srcA := &scriptedSource{frames: 5, ready: make(chan struct{})}
	srcB := &scriptedSource{frames: 8, ready: make(chan struct{})}

	m := NewManager(2*time.Second, factory)
	m.Start(t.Context(), []Device{
		{Config: testDevice("A"), Source: srcA},
		{Config: testDevice("B"), Source: srcB},
	})
	defer m.Stop()
	<-srcA.ready
	<-srcB.ready

	assert.Equal(t, 2, m.Count())
	assert.ElementsMatch(t, []string{"A", "B"}, m.Names())
	assert.Equal(t, map[string]uint64{"A": 5, "B": 8}, m.FrameCounts())

	d, err := m.StartRecording(t.Context(), t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, 800*time.Millisecond, "longest pre-roll wins")
	assert.True(t, m.IsRecording())

	m.PollOnce()
	files := m.StopRecording(t.Context())
	require.Len(t, files, 2)
	assert.False(t, m.IsRecording())

	names := []string{files[0].Filename, files[1].Filename}
	assert.ElementsMatch(t, []string{"video_A.webm", "video_B.webm"}, names)
}

func TestRig_OpenClose(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	factory := func(DeviceConfig) EncoderFactory {
		return sinkFactory(&memSink{}, clock, 64)
	}
	src := &scriptedSource{frames: 3, ready: make(chan struct{})}
	rig := NewRig(NewManager(time.Second, factory), []Device{{Config: testDevice("Cam"), Source: src}})

	require.NoError(t, rig.Open(t.Context()))
	require.NoError(t, rig.Open(t.Context()), "opening twice is a no-op")
	<-src.ready
	assert.Equal(t, []string{"Cam"}, rig.Names())

	_, err := rig.StartRecording(t.Context(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, rig.IsRecording())

	// closing finalizes the recording and stops the poller
	rig.Close()
	rig.Close()
	assert.Zero(t, rig.Count())

	empty := NewRig(NewManager(time.Second, factory), nil)
	require.NoError(t, empty.Open(t.Context()))
	empty.Close()
}
