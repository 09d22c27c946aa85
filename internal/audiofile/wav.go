package audiofile

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV format tags.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

type wavEncoder struct {
	enc   *wav.Encoder
	depth Depth
	buf   *audio.IntBuffer
}

func newWAVEncoder(w io.WriteSeeker, rate, channels int, depth Depth) *wavEncoder {
	format := wavFormatPCM
	if depth == Depth32F {
		format = wavFormatFloat
	}
	return &wavEncoder{
		enc:   wav.NewEncoder(w, rate, depth.Bits(), channels, format),
		depth: depth,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
			SourceBitDepth: depth.Bits(),
		},
	}
}

func (e *wavEncoder) write(samples []float32) error {
	if e.depth == Depth32F {
		for _, s := range samples {
			if err := e.enc.WriteFrame(s); err != nil {
				return err
			}
		}
		return nil
	}

	bits := e.depth.Bits()
	e.buf.Data = e.buf.Data[:0]
	for _, s := range samples {
		e.buf.Data = append(e.buf.Data, int(toInt(s, bits)))
	}
	return e.enc.Write(e.buf)
}

func (e *wavEncoder) close() error {
	return e.enc.Close()
}
