package audiofile

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// silenceChunkFrames bounds the allocation used while padding.
const silenceChunkFrames = 4096

type sampleEncoder interface {
	write(samples []float32) error
	close() error
}

// Writer streams interleaved float samples of one device into a file.
type Writer struct {
	file     *os.File
	enc      sampleEncoder
	path     string
	filename string
	device   string
	rate     int
	channels int
	frames   uint64
	log      logger.Logger
}

// Create opens dir/filename and prepares an encoder for format.
func Create(dir, filename, device string, format Format, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, errors.Newf("invalid stream layout %d Hz %d channels", sampleRate, channels).
			Component("audiofile").
			Category(errors.CategoryValidation).
			Context("device", device).
			Build()
	}

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("operation", "create_audio_file").
			Context("device", device).
			Build()
	}

	var enc sampleEncoder
	switch format.Container {
	case FLAC:
		enc, err = newFLACEncoder(seekOnly{f}, sampleRate, channels, format.stored())
	default:
		enc = newWAVEncoder(f, sampleRate, channels, format.stored())
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryEncoding).
			Context("operation", "init_audio_encoder").
			Context("format", format.Container.Extension()).
			Build()
	}

	w := &Writer{
		file:     f,
		enc:      enc,
		path:     path,
		filename: filename,
		device:   device,
		rate:     sampleRate,
		channels: channels,
		log:      GetLogger(),
	}
	w.log.Debug("audio stream started",
		logger.String("device", device),
		logger.String("file", filename),
		logger.Int("sample_rate", sampleRate),
		logger.Int("channels", channels),
		logger.String("depth", format.stored().String()))
	return w, nil
}

// seekOnly hides Close so encoders that close their writer leave the file
// to the Writer.
type seekOnly struct {
	io.WriteSeeker
}

// Filename returns the file name relative to the session directory.
func (w *Writer) Filename() string { return w.filename }

// Device returns the capturing device name.
func (w *Writer) Device() string { return w.device }

// Duration returns the content written so far.
func (w *Writer) Duration() time.Duration {
	return time.Duration(w.frames) * time.Second / time.Duration(w.rate)
}

// Write appends interleaved samples. A trailing partial frame is dropped.
func (w *Writer) Write(samples []float32) error {
	n := len(samples) - len(samples)%w.channels
	if n == 0 {
		return nil
	}
	if err := w.enc.write(samples[:n]); err != nil {
		return errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("operation", "write_audio").
			Context("device", w.device).
			Build()
	}
	w.frames += uint64(n / w.channels)
	return nil
}

// PushSilence appends d worth of silence.
func (w *Writer) PushSilence(d time.Duration) error {
	remaining := int(d.Seconds() * float64(w.rate))
	if remaining <= 0 {
		return nil
	}
	chunk := make([]float32, min(remaining, silenceChunkFrames)*w.channels)
	for remaining > 0 {
		n := min(remaining, silenceChunkFrames)
		if err := w.Write(chunk[:n*w.channels]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// Finish finalizes headers, closes the file and describes the result.
func (w *Writer) Finish() (session.AudioFile, error) {
	err := w.enc.close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}

	info := session.AudioFile{
		Filename:     w.filename,
		Device:       w.device,
		Channels:     w.channels,
		SampleRate:   w.rate,
		DurationSecs: w.Duration().Seconds(),
	}
	if st, serr := os.Stat(w.path); serr == nil {
		info.SizeBytes = st.Size()
	}
	if err != nil {
		return info, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("operation", "finish_audio_file").
			Context("device", w.device).
			Build()
	}

	w.log.Info("audio stream finished",
		logger.String("file", w.filename),
		logger.Float64("duration_secs", info.DurationSecs),
		logger.Int64("size_bytes", info.SizeBytes))
	return info, nil
}
