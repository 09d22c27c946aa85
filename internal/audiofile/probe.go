package audiofile

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

// Info describes a finished audio file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
	SizeBytes  int64
}

// Probe reads the stream layout and duration of a WAV or FLAC file.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, probeError(err, path)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, probeError(err, path)
	}

	var info Info
	switch containerOf(path) {
	case FLAC:
		dec, err := flac.NewDecoder(f)
		if err != nil {
			return Info{}, probeError(err, path)
		}
		info = Info{
			SampleRate: dec.SampleRate,
			Channels:   dec.NChannels,
			BitDepth:   dec.BitsPerSample,
		}
		if dec.SampleRate > 0 {
			info.Duration = time.Duration(dec.TotalSamples) * time.Second / time.Duration(dec.SampleRate)
		}
	default:
		dec := wav.NewDecoder(f)
		if !dec.IsValidFile() {
			return Info{}, probeError(errors.NewStd("not a valid WAV file"), path)
		}
		d, err := dec.Duration()
		if err != nil {
			return Info{}, probeError(err, path)
		}
		info = Info{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
			Duration:   d,
		}
	}
	info.SizeBytes = st.Size()
	return info, nil
}

func containerOf(path string) Container {
	if strings.EqualFold(filepath.Ext(path), ".flac") {
		return FLAC
	}
	return WAV
}

func probeError(err error, path string) error {
	return errors.New(err).
		Component("audiofile").
		Category(errors.CategoryFileIO).
		Context("operation", "probe_audio_file").
		Context("file", filepath.Base(path)).
		Build()
}
