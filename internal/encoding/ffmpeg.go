package encoding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// SinkConfig describes the raw input and encoded output of an FFmpegSink.
type SinkConfig struct {
	FFmpegPath       string
	OutputPath       string
	Width            int
	Height           int
	FPS              float64
	PixelFormat      string
	Codec            Codec
	Backend          Backend
	Preset           int
	KeyframeInterval int
}

// FFmpegSink pipes raw frames into an ffmpeg process that encodes and muxes
// them. Frames are assumed to arrive at a constant rate, so presentation
// times are implied by frame order.
type FFmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *syncBuffer
	cfg    SinkConfig
	frame  int

	closeOnce sync.Once
	waitErr   error
}

// Args builds the ffmpeg command line for cfg.
func (cfg SinkConfig) Args() ([]string, error) {
	profile, ok := ProfileFor(cfg.Backend, cfg.Codec, cfg.Preset, cfg.KeyframeInterval)
	if !ok {
		return nil, errors.Newf("backend %s cannot encode %s", cfg.Backend, cfg.Codec).
			Component("encoding").
			Category(errors.CategoryConfiguration).
			Build()
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, profile.InputArgs...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", strings.ToLower(cfg.PixelFormat),
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.FormatFloat(cfg.FPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", profile.Encoder,
	)
	args = append(args, profile.OutputArgs...)
	args = append(args, cfg.OutputPath)
	return args, nil
}

// NewFFmpegSink starts ffmpeg for cfg.
func NewFFmpegSink(ctx context.Context, cfg SinkConfig) (*FFmpegSink, error) {
	args, err := cfg.Args()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return nil, errors.New(err).
			Component("encoding").
			Category(errors.CategoryFileIO).
			Context("operation", "create_output_dir").
			Build()
	}

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.New(err).
			Component("encoding").
			Category(errors.CategorySystem).
			Context("operation", "create_ffmpeg_stdin").
			Build()
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.New(err).
			Component("encoding").
			Category(errors.CategorySystem).
			Context("operation", "start_ffmpeg").
			Context("encoder", cfg.Codec.String()).
			Build()
	}

	return &FFmpegSink{cmd: cmd, stdin: stdin, stderr: stderr, cfg: cfg}, nil
}

// WriteFrame writes one raw frame to ffmpeg's stdin.
func (s *FFmpegSink) WriteFrame(frame preroll.Frame, _ time.Duration) error {
	if _, err := s.stdin.Write(frame.Data); err != nil {
		return errors.New(err).
			Component("encoding").
			Category(errors.CategoryEncoding).
			Context("operation", "write_ffmpeg_stdin").
			Context("frame", s.frame).
			Context("stderr", tail(s.stderr.String(), 512)).
			Build()
	}
	s.frame++
	return nil
}

// Close ends the input stream and waits for ffmpeg to finish the file. When
// ctx expires first, ffmpeg is killed and the partial file is kept.
func (s *FFmpegSink) Close(ctx context.Context) (int64, error) {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()

		waitDone := make(chan error, 1)
		go func() { waitDone <- s.cmd.Wait() }()

		select {
		case err := <-waitDone:
			if err != nil {
				s.waitErr = errors.New(err).
					Component("encoding").
					Category(errors.CategoryEncoding).
					Context("operation", "ffmpeg_exit").
					Context("stderr", tail(s.stderr.String(), 512)).
					Build()
			}
		case <-ctx.Done():
			_ = s.cmd.Process.Kill()
			<-waitDone
			s.waitErr = errors.New(ctx.Err()).
				Component("encoding").
				Category(errors.CategoryTimeout).
				Context("operation", "ffmpeg_finalize").
				Build()
		}
	})

	info, err := os.Stat(s.cfg.OutputPath)
	if err != nil {
		if s.waitErr != nil {
			return 0, s.waitErr
		}
		return 0, errors.New(err).
			Component("encoding").
			Category(errors.CategoryFileIO).
			Context("operation", "stat_output").
			Build()
	}
	return info.Size(), s.waitErr
}

// FFmpegRemuxer rewrites a file with stream copy so the container gets a
// duration header. The file is replaced atomically.
func FFmpegRemuxer(ffmpegPath string) Remuxer {
	return func(ctx context.Context, path string) (int64, error) {
		ext := filepath.Ext(path)
		tmp := strings.TrimSuffix(path, ext) + ".remux" + ext

		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, ffmpegPath,
			"-hide_banner", "-loglevel", "error", "-y",
			"-i", path, "-c", "copy", tmp)
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			_ = os.Remove(tmp)
			return 0, errors.New(err).
				Component("encoding").
				Category(errors.CategoryEncoding).
				Context("operation", "remux").
				Context("stderr", tail(stderr.String(), 512)).
				Build()
		}

		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return 0, errors.New(err).
				Component("encoding").
				Category(errors.CategoryFileIO).
				Context("operation", "replace_remuxed").
				Build()
		}

		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
}

// MuxAudioVideo copies the video stream of videoPath and the audio stream of
// audioPath into one Matroska file at outPath.
func MuxAudioVideo(ctx context.Context, ffmpegPath, videoPath, audioPath, outPath string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath, "-i", audioPath,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy", "-c:a", "copy",
		"-f", "matroska", outPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return errors.New(err).
			Component("encoding").
			Category(errors.CategoryEncoding).
			Context("operation", "mux_audio_video").
			Context("stderr", tail(stderr.String(), 512)).
			Build()
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// syncBuffer collects process output written from exec's copy goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
