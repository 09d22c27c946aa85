package preroll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestAudioBuffer_SampleGranularBound(t *testing.T) {
	t.Parallel()

	// 1000 Hz stereo, 1s window = 2000 samples
	a := NewAudioBuffer(1000, 2, time.Second)
	for i := range 7 {
		a.Push(ramp(600, float32(i*600)), epoch.Add(time.Duration(i)*300*time.Millisecond))
		require.LessOrEqual(t, a.Samples(), 2000)
	}
	assert.Equal(t, 2000, a.Samples())
	assert.Equal(t, time.Second, a.Duration())

	got := a.Drain()
	require.Len(t, got, 2000)
	assert.Equal(t, float32(4200-2000), got[0], "oldest samples are evicted first")
	assert.Equal(t, float32(4199), got[len(got)-1])
	assert.Zero(t, a.Samples())
}

func TestAudioBuffer_DrainDuration(t *testing.T) {
	t.Parallel()

	a := NewAudioBuffer(1000, 2, 2*time.Second)
	a.Push(ramp(1000, 0), epoch)
	a.Push(ramp(1000, 1000), epoch.Add(500*time.Millisecond))

	got := a.DrainDuration(250 * time.Millisecond)
	require.Len(t, got, 500)
	assert.Equal(t, float32(1500), got[0])
	assert.Equal(t, float32(1999), got[499])
	assert.Zero(t, a.Samples(), "older content is discarded, not kept")
}

func TestAudioBuffer_ZeroWindowKeepsNothing(t *testing.T) {
	t.Parallel()

	a := NewAudioBuffer(48000, 2, 0)
	a.Push(ramp(960, 0), epoch)
	assert.Zero(t, a.Samples())
	assert.Nil(t, a.Drain())
}

func TestAudioBuffer_PushCopiesInput(t *testing.T) {
	t.Parallel()

	a := NewAudioBuffer(1000, 1, time.Second)
	in := ramp(10, 0)
	a.Push(in, epoch)
	in[0] = 99

	assert.Equal(t, float32(0), a.Drain()[0])
}
