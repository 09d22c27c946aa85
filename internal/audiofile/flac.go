package audiofile

import (
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

// flacBlockSize is the number of frames per FLAC frame.
const flacBlockSize = 4096

const maxFLACChannels = 8

type flacEncoder struct {
	enc      *flac.Encoder
	rate     int
	channels int
	bits     int
	pending  []int32 // interleaved
}

func newFLACEncoder(w io.WriteSeeker, rate, channels int, depth Depth) (*flacEncoder, error) {
	if channels > maxFLACChannels {
		return nil, errors.Newf("FLAC supports at most %d channels, got %d", maxFLACChannels, channels).
			Component("audiofile").
			Category(errors.CategoryValidation).
			Build()
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(rate),
		NChannels:     uint8(channels),
		BitsPerSample: uint8(depth.Bits()),
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, err
	}
	return &flacEncoder{
		enc:      enc,
		rate:     rate,
		channels: channels,
		bits:     depth.Bits(),
		pending:  make([]int32, 0, flacBlockSize*channels),
	}, nil
}

func (e *flacEncoder) write(samples []float32) error {
	for _, s := range samples {
		e.pending = append(e.pending, toInt(s, e.bits))
		if len(e.pending) == flacBlockSize*e.channels {
			if err := e.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush encodes the pending samples as one frame of verbatim subframes.
func (e *flacEncoder) flush() error {
	n := len(e.pending) / e.channels
	if n == 0 {
		return nil
	}
	subframes := make([]*frame.Subframe, e.channels)
	for ch := range e.channels {
		data := make([]int32, n)
		for i := range n {
			data[i] = e.pending[i*e.channels+ch]
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   data,
			NSamples:  n,
		}
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    uint32(e.rate),
			Channels:      frame.Channels(e.channels - 1),
			BitsPerSample: uint8(e.bits),
		},
		Subframes: subframes,
	}
	e.pending = e.pending[:0]
	return e.enc.WriteFrame(f)
}

func (e *flacEncoder) close() error {
	err := e.flush()
	if cerr := e.enc.Close(); err == nil {
		err = cerr
	}
	return err
}
