package preroll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(i int, delta bool) Frame {
	return Frame{
		Data:       make([]byte, 100),
		PTS:        time.Duration(i) * 100 * time.Millisecond,
		Duration:   100 * time.Millisecond,
		CapturedAt: epoch.Add(time.Duration(i) * 100 * time.Millisecond),
		IsDelta:    delta,
	}
}

func TestFrameBuffer_HeadroomStrippedOnDrain(t *testing.T) {
	t.Parallel()

	f := NewFrameBuffer(time.Second, 500*time.Millisecond, 0)
	for i := range 30 {
		f.Push(frameAt(i, false))
	}
	assert.Equal(t, 1500*time.Millisecond, f.Duration(), "headroom is retained")

	got := f.Drain()
	require.NotEmpty(t, got)
	span := got[len(got)-1].CapturedAt.Sub(got[0].CapturedAt)
	assert.LessOrEqual(t, span, time.Second)
	assert.Equal(t, 0, f.Len())
}

func TestFrameBuffer_ByteCeiling(t *testing.T) {
	t.Parallel()

	// 100 bytes per frame at 10 fps = 1000 B/s; 2s window allows 2000 bytes
	f := NewFrameBuffer(2*time.Second, 0, 1000)
	for i := range 100 {
		f.Push(frameAt(i, false))
		require.LessOrEqual(t, f.Bytes(), 2000)
	}
}

func TestFrameBuffer_ZeroWindowIsStaging(t *testing.T) {
	t.Parallel()

	f := NewFrameBuffer(0, 500*time.Millisecond, 1)
	for i := range 50 {
		f.Push(frameAt(i, false))
	}
	assert.Len(t, f.Drain(), 50)
}

func TestStripLeadingDeltas(t *testing.T) {
	t.Parallel()

	frames := []Frame{frameAt(0, true), frameAt(1, true), frameAt(2, false), frameAt(3, true)}
	got, stripped := StripLeadingDeltas(frames)
	assert.Equal(t, 2, stripped)
	require.Len(t, got, 2)
	assert.False(t, got[0].IsDelta)
}

func TestRawVideoBytesPerSec(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1280*720*1.5*30, RawVideoBytesPerSec(1280, 720, 1.5, 30), 0.1)
}
