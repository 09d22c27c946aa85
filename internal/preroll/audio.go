package preroll

import "time"

const bytesPerSample = 4

// AudioBlock is a run of interleaved float32 samples delivered by one
// device callback.
type AudioBlock struct {
	Samples    []float32
	CapturedAt time.Time
}

// Timestamp implements Item.
func (a AudioBlock) Timestamp() time.Time { return a.CapturedAt }

// Size implements Item.
func (a AudioBlock) Size() int { return len(a.Samples) * bytesPerSample }

// AudioBuffer keeps the newest window of samples for one audio device. The
// window is enforced at sample granularity on frame boundaries.
type AudioBuffer struct {
	buf        *Buffer[AudioBlock]
	sampleRate int
	channels   int
	window     time.Duration
}

// NewAudioBuffer creates a buffer holding window worth of interleaved audio.
func NewAudioBuffer(sampleRate, channels int, window time.Duration) *AudioBuffer {
	a := &AudioBuffer{sampleRate: sampleRate, channels: max(channels, 1), window: window}
	a.buf = New(a.bound(window), WithTrimmer(a.trimFront))
	return a
}

// bound only limits bytes; sample count is the authoritative clock for audio.
func (a *AudioBuffer) bound(window time.Duration) Bound {
	return Bound{Bytes: max(a.samplesFor(window), a.channels) * bytesPerSample}
}

func (a *AudioBuffer) trimFront(block AudioBlock, excess int) (AudioBlock, int, bool) {
	frameBytes := a.channels * bytesPerSample
	drop := (excess + frameBytes - 1) / frameBytes * a.channels
	if drop >= len(block.Samples) {
		return block, 0, false
	}
	advance := time.Duration(float64(drop/a.channels) / float64(a.sampleRate) * float64(time.Second))
	return AudioBlock{Samples: block.Samples[drop:], CapturedAt: block.CapturedAt.Add(advance)}, drop * bytesPerSample, true
}

func (a *AudioBuffer) samplesFor(d time.Duration) int {
	frames := int(d.Seconds() * float64(a.sampleRate))
	return frames * a.channels
}

// Push copies samples into the buffer.
func (a *AudioBuffer) Push(samples []float32, capturedAt time.Time) {
	if len(samples) == 0 || a.window <= 0 {
		return
	}
	owned := make([]float32, len(samples))
	copy(owned, samples)
	a.buf.Push(AudioBlock{Samples: owned, CapturedAt: capturedAt})
}

// SetWindow changes the retained window.
func (a *AudioBuffer) SetWindow(window time.Duration) {
	a.window = window
	if window <= 0 {
		a.buf.Clear()
	}
	a.buf.SetBound(a.bound(window))
}

// SampleRate returns the device sample rate.
func (a *AudioBuffer) SampleRate() int { return a.sampleRate }

// Channels returns the device channel count.
func (a *AudioBuffer) Channels() int { return a.channels }

// Samples returns the number of buffered interleaved samples.
func (a *AudioBuffer) Samples() int { return a.buf.Bytes() / bytesPerSample }

// Duration returns the buffered content length.
func (a *AudioBuffer) Duration() time.Duration {
	frames := a.Samples() / a.channels
	return time.Duration(float64(frames) / float64(a.sampleRate) * float64(time.Second))
}

// Drain empties the buffer and returns all samples.
func (a *AudioBuffer) Drain() []float32 {
	blocks := a.buf.Drain()
	return flatten(blocks, 0)
}

// DrainDuration empties the buffer and returns only the newest d of audio.
func (a *AudioBuffer) DrainDuration(d time.Duration) []float32 {
	keep := a.samplesFor(d)
	blocks := a.buf.Drain()
	if keep <= 0 {
		return nil
	}
	return flatten(blocks, keep)
}

// Clear discards buffered audio.
func (a *AudioBuffer) Clear() { a.buf.Clear() }

// flatten concatenates blocks, keeping only the last keep samples when keep
// is positive.
func flatten(blocks []AudioBlock, keep int) []float32 {
	total := 0
	for _, b := range blocks {
		total += len(b.Samples)
	}
	if total == 0 {
		return nil
	}
	skip := 0
	if keep > 0 && keep < total {
		skip = total - keep
	}
	out := make([]float32, 0, total-skip)
	for _, b := range blocks {
		s := b.Samples
		if skip >= len(s) {
			skip -= len(s)
			continue
		}
		out = append(out, s[skip:]...)
		skip = 0
	}
	return out
}
