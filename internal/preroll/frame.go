package preroll

import "time"

// Frame is one captured video frame.
type Frame struct {
	Data        []byte
	PTS         time.Duration
	Duration    time.Duration
	CapturedAt  time.Time
	PixelFormat string
	IsDelta     bool
}

// Timestamp implements Item.
func (f Frame) Timestamp() time.Time { return f.CapturedAt }

// Size implements Item.
func (f Frame) Size() int { return len(f.Data) }

// End returns the presentation time at which the frame stops being shown.
func (f Frame) End() time.Duration { return f.PTS + f.Duration }

// FrameBuffer holds recent video frames. It retains window plus headroom to
// absorb frame timing jitter, and Drain strips the headroom again.
//
// A zero window turns the buffer into a staging area between the capture
// reader and the poller: nothing is trimmed.
type FrameBuffer struct {
	buf         *Buffer[Frame]
	window      time.Duration
	headroom    time.Duration
	bytesPerSec float64
}

// NewFrameBuffer creates a frame buffer. bytesPerSec estimates the stream data
// rate and derives the byte ceiling.
func NewFrameBuffer(window, headroom time.Duration, bytesPerSec float64) *FrameBuffer {
	f := &FrameBuffer{window: window, headroom: headroom, bytesPerSec: bytesPerSec}
	f.buf = New[Frame](f.bound())
	return f
}

func (f *FrameBuffer) bound() Bound {
	if f.window <= 0 {
		return Bound{}
	}
	return BoundFor(f.window+f.headroom, f.bytesPerSec)
}

// RawVideoBytesPerSec estimates the data rate of uncompressed video.
func RawVideoBytesPerSec(width, height int, bytesPerPixel, fps float64) float64 {
	return float64(width*height) * bytesPerPixel * fps
}

// Push buffers a frame.
func (f *FrameBuffer) Push(frame Frame) {
	f.buf.Push(frame)
}

// Drain empties the buffer and returns at most window worth of frames
// measured back from the newest frame.
func (f *FrameBuffer) Drain() []Frame {
	if f.headroom > 0 && f.window > 0 {
		return f.buf.DrainDuration(f.window)
	}
	return f.buf.Drain()
}

// SetWindow changes the retained window, keeping the headroom.
func (f *FrameBuffer) SetWindow(window time.Duration) {
	f.window = window
	f.buf.SetBound(f.bound())
}

// Duration returns the span of buffered frames.
func (f *FrameBuffer) Duration() time.Duration { return f.buf.Duration() }

// Bytes returns the buffered size.
func (f *FrameBuffer) Bytes() int { return f.buf.Bytes() }

// Len returns the number of buffered frames.
func (f *FrameBuffer) Len() int { return f.buf.Len() }

// Clear discards all frames.
func (f *FrameBuffer) Clear() { f.buf.Clear() }

// StripLeadingDeltas drops inter frames at the head of frames so the result
// starts at a keyframe.
func StripLeadingDeltas(frames []Frame) ([]Frame, int) {
	n := 0
	for n < len(frames) && frames[n].IsDelta {
		n++
	}
	return frames[n:], n
}
