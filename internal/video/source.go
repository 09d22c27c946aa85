package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// Source delivers captured frames to emit until ctx is canceled or the
// device fails.
type Source interface {
	Run(ctx context.Context, emit func(preroll.Frame)) error
}

// SourceConfig describes a raw capture device.
type SourceConfig struct {
	FFmpegPath  string
	Name        string
	Input       string
	Width       int
	Height      int
	FPS         float64
	PixelFormat string
}

// BytesPerPixel returns the average storage size of one pixel for a raw
// pixel format.
func BytesPerPixel(pixelFormat string) float64 {
	switch strings.ToLower(pixelFormat) {
	case "nv12", "yuv420p", "i420", "nv21":
		return 1.5
	case "yuyv422", "uyvy422", "nv16", "yuv422p":
		return 2
	case "rgb24", "bgr24":
		return 3
	case "rgba", "bgra", "argb", "abgr":
		return 4
	case "gray":
		return 1
	default:
		return 1.5
	}
}

// FrameSize returns the byte size of one raw frame.
func (c SourceConfig) FrameSize() int {
	return int(float64(c.Width*c.Height) * BytesPerPixel(c.PixelFormat))
}

// FrameDuration returns the nominal duration of one frame.
func (c SourceConfig) FrameDuration() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FPS)
}

// FFmpegSource captures raw frames by running ffmpeg against a platform
// capture device and reading fixed size frames from its stdout.
type FFmpegSource struct {
	cfg SourceConfig
}

// NewFFmpegSource returns a source for cfg.
func NewFFmpegSource(cfg SourceConfig) *FFmpegSource {
	return &FFmpegSource{cfg: cfg}
}

// inputArgs selects the capture demuxer for the current OS.
func (c SourceConfig) inputArgs(goos string) []string {
	size := fmt.Sprintf("%dx%d", c.Width, c.Height)
	fps := strconv.FormatFloat(c.FPS, 'f', -1, 64)
	switch goos {
	case "windows":
		return []string{"-f", "dshow", "-framerate", fps, "-video_size", size, "-i", "video=" + c.Input}
	case "darwin":
		return []string{"-f", "avfoundation", "-framerate", fps, "-video_size", size, "-i", c.Input}
	default:
		return []string{"-f", "v4l2", "-framerate", fps, "-video_size", size, "-i", c.Input}
	}
}

// Args builds the ffmpeg command line for the current OS.
func (c SourceConfig) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, c.inputArgs(runtime.GOOS)...)
	return append(args, "-an", "-f", "rawvideo", "-pix_fmt", strings.ToLower(c.PixelFormat), "pipe:1")
}

// Run starts ffmpeg and emits frames until ctx ends.
func (s *FFmpegSource) Run(ctx context.Context, emit func(preroll.Frame)) error {
	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, s.cfg.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(err).
			Component("video").
			Category(errors.CategorySystem).
			Context("operation", "create_ffmpeg_stdout").
			Build()
	}
	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("video").
			Category(errors.CategoryVideo).
			Context("operation", "start_capture").
			Context("device", s.cfg.Name).
			Build()
	}

	readErr := ReadFrames(stdout, s.cfg, time.Now, emit)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return errors.New(waitErr).
			Component("video").
			Category(errors.CategoryVideo).
			Context("operation", "capture_exit").
			Context("device", s.cfg.Name).
			Build()
	}
	return nil
}

// ReadFrames splits a raw video stream into frames. Presentation times are
// derived from the capture clock relative to the first frame.
func ReadFrames(r io.Reader, cfg SourceConfig, now func() time.Time, emit func(preroll.Frame)) error {
	size := cfg.FrameSize()
	if size <= 0 {
		return errors.Newf("invalid frame geometry %dx%d", cfg.Width, cfg.Height).
			Component("video").
			Category(errors.CategoryValidation).
			Build()
	}

	br := bufio.NewReaderSize(r, size)
	var first time.Time
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return errors.New(err).
				Component("video").
				Category(errors.CategoryVideo).
				Context("operation", "read_frame").
				Context("device", cfg.Name).
				Build()
		}
		at := now()
		if first.IsZero() {
			first = at
		}
		emit(preroll.Frame{
			Data:        buf,
			PTS:         at.Sub(first),
			Duration:    cfg.FrameDuration(),
			CapturedAt:  at,
			PixelFormat: cfg.PixelFormat,
		})
	}
}
