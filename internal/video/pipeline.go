package video

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/preroll-recorder/internal/encoding"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// Pipeline tuning.
const (
	// stallPolls is the number of consecutive polls in which every frame was
	// dropped before the encoder is considered dead.
	stallPolls = 150
	// rawHeadroom absorbs frame timing jitter in the pre-roll buffer.
	rawHeadroom = 500 * time.Millisecond
	// fpsCheckWindow is how long frame delivery is measured before comparing
	// against the nominal rate.
	fpsCheckWindow = 5 * time.Second
	// fpsWarnRatio is the fraction of nominal fps below which a warning is raised.
	fpsWarnRatio = 0.75
	// finalizeGrace bounds teardown of an encoder abandoned after a stall.
	finalizeGrace = 2 * time.Second
)

// FileInfo describes a finished video file.
type FileInfo struct {
	Filename      string
	Device        string
	DurationSecs  float64
	SizeBytes     int64
	FramesWritten uint64
}

// FPSWarning reports a device that delivers frames well below its nominal rate.
type FPSWarning struct {
	Device      string  `json:"device_name"`
	ActualFPS   float64 `json:"actual_fps"`
	ExpectedFPS float64 `json:"expected_fps"`
}

// EncoderFactory opens an encoder writing to path.
type EncoderFactory func(ctx context.Context, path string) (*encoding.Encoder, error)

// DeviceConfig configures one video pipeline.
type DeviceConfig struct {
	ID     string
	Source SourceConfig
	Codec  encoding.Codec
	// InterFrame marks sources whose frames depend on earlier frames; the
	// recording must then begin at a keyframe.
	InterFrame bool
}

// Pipeline buffers frames of one device and feeds an encoder while recording.
type Pipeline struct {
	cfg        DeviceConfig
	newEncoder EncoderFactory
	log        logger.Logger
	now        func() time.Time
	grace      time.Duration

	bufMu  sync.Mutex
	buffer *preroll.FrameBuffer
	window time.Duration

	// needsFrames is read by the capture path without taking mu.
	needsFrames  atomic.Bool
	frameCounter atomic.Uint64

	mu            sync.Mutex
	recording     bool
	encoder       *encoding.Encoder
	path          string
	framesWritten uint64
	totalDropped  uint64
	fullDrops     int
	dropWarn      *rate.Limiter

	fpsWarned      bool
	fpsCheckStart  time.Time
	fpsCheckFrames uint64
}

// NewPipeline creates a pipeline retaining window of pre-roll.
func NewPipeline(cfg DeviceConfig, window time.Duration, newEncoder EncoderFactory) *Pipeline {
	bytesPerSec := preroll.RawVideoBytesPerSec(cfg.Source.Width, cfg.Source.Height, BytesPerPixel(cfg.Source.PixelFormat), cfg.Source.FPS)
	p := &Pipeline{
		cfg:        cfg,
		newEncoder: newEncoder,
		log:        GetLogger().With(logger.String("device", cfg.Source.Name)),
		now:        time.Now,
		grace:      finalizeGrace,
		buffer:     preroll.NewFrameBuffer(window, rawHeadroom, bytesPerSec),
		window:     window,
		dropWarn:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	p.needsFrames.Store(window > 0)
	return p
}

// Name returns the device display name.
func (p *Pipeline) Name() string { return p.cfg.Source.Name }

// OnFrame is the capture callback. It only touches the frame buffer.
func (p *Pipeline) OnFrame(frame preroll.Frame) {
	p.frameCounter.Add(1)
	if !p.needsFrames.Load() {
		return
	}
	p.bufMu.Lock()
	p.buffer.Push(frame)
	p.bufMu.Unlock()
}

func (p *Pipeline) drainBuffer() []preroll.Frame {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return p.buffer.Drain()
}

// FrameCount returns the number of frames delivered by the device.
func (p *Pipeline) FrameCount() uint64 { return p.frameCounter.Load() }

// SetPrerollWindow changes the buffered window.
func (p *Pipeline) SetPrerollWindow(window time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bufMu.Lock()
	p.window = window
	p.buffer.SetWindow(window)
	p.bufMu.Unlock()

	if !p.recording {
		p.needsFrames.Store(window > 0)
	}
}

// IsRecording reports whether frames are being encoded.
func (p *Pipeline) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// StartRecording opens the output in dir, writes the buffered pre-roll and
// returns how much content it covers: the time from the first buffered
// frame's capture to now.
func (p *Pipeline) StartRecording(ctx context.Context, dir string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recording {
		return 0, errors.New(errors.ErrAlreadyRecording).
			Component("video").
			Category(errors.CategoryState).
			Context("device", p.Name()).
			Build()
	}

	frames := p.drainBuffer()
	if p.window <= 0 {
		frames = nil
	}
	if p.cfg.InterFrame {
		var stripped int
		frames, stripped = preroll.StripLeadingDeltas(frames)
		if stripped > 0 {
			p.log.Debug("stripped leading delta frames", logger.Int("count", stripped))
		}
	}

	var prerollDur time.Duration
	if len(frames) > 0 {
		prerollDur = p.now().Sub(frames[0].CapturedAt)
	}

	path := filepath.Join(dir, session.VideoFileName(p.Name(), p.cfg.Codec.Extension()))
	enc, err := p.newEncoder(ctx, path)
	if err != nil {
		return 0, errors.New(err).
			Component("video").
			Category(errors.CategoryEncoding).
			Context("operation", "create_encoder").
			Context("device", p.Name()).
			Build()
	}

	// Buffered frames are needed in full, so they may wait for the worker.
	sent := uint64(0)
	for _, f := range frames {
		if err := enc.Send(ctx, f); err != nil {
			p.log.Warn("failed to queue pre-roll frame", logger.Error(err))
			break
		}
		sent++
	}

	p.encoder = enc
	p.path = path
	p.recording = true
	p.framesWritten = sent
	p.totalDropped = 0
	p.fullDrops = 0
	p.needsFrames.Store(true)

	p.log.Info("video recording started",
		logger.String("path", path),
		logger.Int("preroll_frames", len(frames)),
		logger.Duration("preroll", prerollDur))
	return prerollDur, nil
}

// Poll moves staged frames into the encoder without blocking. It returns an
// error when the encoder failed or stalled; the recording is then aborted.
func (p *Pipeline) Poll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.recording || p.encoder == nil {
		return nil
	}

	frames := p.drainBuffer()
	if len(frames) == 0 {
		return nil
	}

	var sent, dropped uint64
	for _, f := range frames {
		ok, err := p.encoder.TrySend(f)
		if err != nil {
			p.log.Error("encoder error", logger.Error(err))
			p.abortLocked()
			return err
		}
		if ok {
			sent++
		} else {
			dropped++
		}
	}
	p.framesWritten += sent
	p.totalDropped += dropped

	if dropped == 0 {
		p.fullDrops = 0
		return nil
	}
	if sent == 0 {
		p.fullDrops++
	} else {
		p.fullDrops = 0
	}

	if p.dropWarn.Allow() {
		p.log.Warn("dropped frames due to encoder backpressure",
			logger.Uint64("dropped", dropped),
			logger.Uint64("dropped_total", p.totalDropped))
	}

	if p.fullDrops > stallPolls {
		p.log.Error("encoder stalled, aborting video recording",
			logger.Int("consecutive_polls", p.fullDrops),
			logger.Uint64("dropped_total", p.totalDropped))
		p.abortLocked()
		return errors.Newf("encoder stalled, recording aborted").
			Component("video").
			Category(errors.CategoryEncoding).
			Context("device", p.Name()).
			Build()
	}
	return nil
}

func (p *Pipeline) abortLocked() {
	enc := p.encoder
	p.encoder = nil
	p.recording = false
	p.needsFrames.Store(p.window > 0)
	if enc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.grace)
		defer cancel()
		_, _ = enc.Finish(ctx)
	}
}

// StopRecording flushes remaining frames, finalizes the file and reports its
// content duration.
func (p *Pipeline) StopRecording(ctx context.Context) (FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.recording || p.encoder == nil {
		return FileInfo{}, errors.New(errors.ErrNotRecording).
			Component("video").
			Category(errors.CategoryState).
			Context("device", p.Name()).
			Build()
	}

	for _, f := range p.drainBuffer() {
		ok, err := p.encoder.TrySend(f)
		if err != nil {
			break
		}
		if ok {
			p.framesWritten++
		}
	}

	stats, err := p.encoder.Finish(ctx)
	path := p.path

	p.encoder = nil
	p.recording = false
	p.path = ""
	p.needsFrames.Store(p.window > 0)
	if p.window <= 0 {
		// frames that slipped in after the last drain must not count as pre-roll next time
		_ = p.drainBuffer()
	}

	info := FileInfo{
		Filename:      filepath.Base(path),
		Device:        p.Name(),
		DurationSecs:  stats.ContentDuration.Seconds(),
		SizeBytes:     stats.BytesWritten,
		FramesWritten: stats.FramesEncoded,
	}
	if err != nil {
		return info, err
	}

	p.log.Info("video recording stopped",
		logger.String("file", info.Filename),
		logger.Float64("duration_secs", info.DurationSecs),
		logger.Int64("size_bytes", info.SizeBytes))
	return info, nil
}

// CheckFPS compares delivered frames against the nominal rate once the
// device has delivered for a full measurement window. It warns at most once.
func (p *Pipeline) CheckFPS() *FPSWarning {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fpsWarned || p.cfg.Source.FPS <= 0 {
		return nil
	}
	total := p.frameCounter.Load()
	if total == 0 {
		return nil
	}
	now := p.now()
	if p.fpsCheckFrames == 0 {
		p.fpsCheckStart = now
		p.fpsCheckFrames = total
		return nil
	}
	elapsed := now.Sub(p.fpsCheckStart)
	if elapsed < fpsCheckWindow {
		return nil
	}

	actual := float64(total-p.fpsCheckFrames) / elapsed.Seconds()
	if actual >= p.cfg.Source.FPS*fpsWarnRatio {
		return nil
	}
	p.fpsWarned = true
	w := &FPSWarning{
		Device:      p.Name(),
		ActualFPS:   float64(int(actual*10+0.5)) / 10,
		ExpectedFPS: p.cfg.Source.FPS,
	}
	p.log.Warn("video device delivers fewer frames than negotiated",
		logger.Float64("actual_fps", w.ActualFPS),
		logger.Float64("expected_fps", w.ExpectedFPS))
	return w
}
