package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/preroll-recorder/internal/preroll"
)

const bytesPerSample = 4 // float32

// Handoff carries raw F32LE bytes from a device callback to a pump
// goroutine. The callback side never blocks: a chunk that does not fit is
// dropped whole.
type Handoff struct {
	ring       *ringbuffer.RingBuffer
	frameBytes int
	bytesPerS  float64
	notify     chan struct{}
	dropped    atomic.Uint64
	now        func() time.Time
}

// NewHandoff sizes the ring to hold capacity worth of audio.
func NewHandoff(sampleRate, channels int, capacity time.Duration) *Handoff {
	frameBytes := channels * bytesPerSample
	frames := int(capacity.Seconds() * float64(sampleRate))
	return &Handoff{
		ring:       ringbuffer.New(max(frames, 1) * frameBytes),
		frameBytes: frameBytes,
		bytesPerS:  float64(sampleRate * frameBytes),
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Write is called from the device callback.
func (h *Handoff) Write(p []byte) {
	n := len(p) - len(p)%h.frameBytes
	if n == 0 {
		return
	}
	if h.ring.Free() < n {
		h.dropped.Add(1)
		return
	}
	if _, err := h.ring.Write(p[:n]); err != nil {
		h.dropped.Add(1)
		return
	}
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Dropped returns the number of chunks lost to a full ring.
func (h *Handoff) Dropped() uint64 { return h.dropped.Load() }

// Pump delivers buffered audio to emit until ctx is done. Blocks are stamped
// with the capture instant of their first sample, estimated from the amount
// of audio still queued behind them.
func (h *Handoff) Pump(ctx context.Context, emit func(preroll.AudioBlock)) {
	buf := make([]byte, h.ring.Capacity()-h.ring.Capacity()%h.frameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.notify:
		}

		for {
			avail := h.ring.Length()
			avail -= avail % h.frameBytes
			if avail == 0 {
				break
			}
			n, err := h.ring.Read(buf[:min(avail, len(buf))])
			if err != nil || n == 0 {
				break
			}
			queued := float64(h.ring.Length()+n) / h.bytesPerS
			capturedAt := h.now().Add(-time.Duration(queued * float64(time.Second)))
			emit(preroll.AudioBlock{Samples: decodeF32(buf[:n]), CapturedAt: capturedAt})
		}
	}
}

func decodeF32(b []byte) []float32 {
	out := make([]float32, len(b)/bytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*bytesPerSample:]))
	}
	return out
}

// EncodeF32 is the inverse of the callback byte layout.
func EncodeF32(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(s))
	}
	return out
}
