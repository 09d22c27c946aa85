// Package audiofile writes captured audio to WAV and FLAC files and checks
// finished files for damage.
package audiofile

import (
	"strings"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

// Container is the audio file type.
type Container int

const (
	WAV Container = iota
	FLAC
)

// Extension returns the file extension without the dot.
func (c Container) Extension() string {
	if c == FLAC {
		return "flac"
	}
	return "wav"
}

// Depth is the stored sample format.
type Depth int

const (
	Depth16 Depth = iota
	Depth24
	Depth32F
)

// Bits returns the stored bits per sample.
func (d Depth) Bits() int {
	switch d {
	case Depth24:
		return 24
	case Depth32F:
		return 32
	default:
		return 16
	}
}

func (d Depth) String() string {
	switch d {
	case Depth24:
		return "24"
	case Depth32F:
		return "32f"
	default:
		return "16"
	}
}

// Format selects container and sample depth.
type Format struct {
	Container Container
	Depth     Depth
}

// ParseFormat parses the configured container and bit depth.
func ParseFormat(container, depth string) (Format, error) {
	var f Format
	switch strings.ToLower(container) {
	case "", "wav":
		f.Container = WAV
	case "flac":
		f.Container = FLAC
	default:
		return f, errors.Newf("unsupported audio format %q", container).
			Component("audiofile").
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch strings.ToLower(depth) {
	case "", "16":
		f.Depth = Depth16
	case "24":
		f.Depth = Depth24
	case "32f", "32":
		f.Depth = Depth32F
	default:
		return f, errors.Newf("unsupported bit depth %q", depth).
			Component("audiofile").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return f, nil
}

// stored returns the depth actually written. FLAC has no float samples, so
// 32f is stored as 24 bit integers.
func (f Format) stored() Depth {
	if f.Container == FLAC && f.Depth == Depth32F {
		return Depth24
	}
	return f.Depth
}

// toInt scales a float sample in [-1, 1] to a signed integer of bits width.
func toInt(s float32, bits int) int32 {
	switch {
	case s != s: // NaN
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	full := float32(int32(1)<<(bits-1) - 1)
	return int32(s * full)
}
