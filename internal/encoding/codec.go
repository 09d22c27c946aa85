package encoding

import (
	"strings"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

// Codec is a target video codec.
type Codec int

const (
	CodecVP9 Codec = iota
	CodecVP8
	CodecAV1
	CodecFFV1
	CodecH264
)

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	case CodecAV1:
		return "av1"
	case CodecFFV1:
		return "ffv1"
	case CodecH264:
		return "h264"
	default:
		return "unknown"
	}
}

// Extension returns the container file extension used for the codec.
// WebM carries the royalty free codecs, everything else goes into Matroska.
func (c Codec) Extension() string {
	switch c {
	case CodecVP8, CodecVP9, CodecAV1:
		return "webm"
	default:
		return "mkv"
	}
}

// NeedsRemux reports whether the streamed file lacks a usable duration
// header. Intra only FFV1 is written with a correct duration on close.
func (c Codec) NeedsRemux() bool {
	return c != CodecFFV1
}

// ParseCodec converts a configuration value into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vp9":
		return CodecVP9, nil
	case "vp8":
		return CodecVP8, nil
	case "av1":
		return CodecAV1, nil
	case "ffv1":
		return CodecFFV1, nil
	case "h264":
		return CodecH264, nil
	default:
		return 0, errors.Newf("unsupported video codec %q", s).
			Component("encoding").
			Category(errors.CategoryValidation).
			Build()
	}
}
