// Package encoding converts raw video frames into compressed files on a
// dedicated worker.
//
// Producers hand frames to an Encoder through a bounded queue. TrySend never
// blocks: when the queue is full the frame is dropped and the caller is told
// so, which keeps capture paths real time while a slow encoder catches up.
// A failure of the worker is latched and returned from every later send.
package encoding

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// Defaults for encoder behavior.
const (
	DefaultQueueSize     = 60
	DefaultFinishTimeout = 30 * time.Second
	DefaultStaleAfter    = 500 * time.Millisecond
	progressEvery        = 100
)

// Sink receives frames in presentation order and produces the output file.
type Sink interface {
	// WriteFrame encodes one frame at the given normalized presentation time.
	WriteFrame(frame preroll.Frame, pts time.Duration) error
	// Close flushes pending output and returns the number of bytes written.
	Close(ctx context.Context) (int64, error)
}

// Remuxer rewrites a finished file so its container carries a duration. It
// returns the new file size.
type Remuxer func(ctx context.Context, path string) (int64, error)

// Config configures an Encoder.
type Config struct {
	// OutputPath is the target file; used for remuxing and size reporting.
	OutputPath string
	Codec      Codec
	QueueSize  int
	// FinishTimeout bounds how long the worker waits for the sink to close.
	FinishTimeout time.Duration
	// StaleAfter is the capture age after which live frames are dropped.
	StaleAfter time.Duration
	// Remux is applied after close when the codec needs it. Nil skips remuxing.
	Remux  Remuxer
	Logger logger.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats summarizes a finished encoding run.
type Stats struct {
	FramesEncoded    uint64        `json:"frames_encoded"`
	FramesDropped    uint64        `json:"frames_dropped"`
	BytesWritten     int64         `json:"bytes_written"`
	EncodingDuration time.Duration `json:"encoding_duration"`
	ContentDuration  time.Duration `json:"content_duration"`
	AverageFPS       float64       `json:"average_fps"`
}

// status is written by the worker and read by the controller.
type status struct {
	mu            sync.Mutex
	err           error
	framesEncoded uint64
	bytesWritten  int64
}

func (s *status) latched() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *status) latch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Encoder feeds frames to a Sink on its own goroutine.
type Encoder struct {
	cfg    Config
	queue  chan preroll.Frame
	status *status
	done   chan struct{}
	result Stats

	finishOnce sync.Once
	finished   chan struct{}
}

// NewEncoder starts the worker goroutine for sink.
func NewEncoder(cfg Config, sink Sink) *Encoder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = DefaultFinishTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Encoder{
		cfg:      cfg,
		queue:    make(chan preroll.Frame, cfg.QueueSize),
		status:   &status{},
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go e.run(sink)
	return e
}

// TrySend offers a frame without blocking. It returns false when the queue
// is full and the frame was dropped, and the latched worker error if the
// pipeline has failed.
func (e *Encoder) TrySend(frame preroll.Frame) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	select {
	case e.queue <- frame:
		return true, nil
	default:
		return false, nil
	}
}

// Send queues a frame, waiting for room. It must not be called from capture
// callbacks.
func (e *Encoder) Send(ctx context.Context, frame preroll.Frame) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	select {
	case e.queue <- frame:
		return nil
	case <-e.done:
		if err := e.status.latched(); err != nil {
			return err
		}
		return errors.ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Encoder) checkOpen() error {
	if err := e.status.latched(); err != nil {
		return err
	}
	select {
	case <-e.finished:
		return errors.ErrPipelineClosed
	case <-e.done:
		return errors.ErrPipelineClosed
	default:
		return nil
	}
}

// Err returns the latched worker error, if any.
func (e *Encoder) Err() error {
	return e.status.latched()
}

// Progress returns the running frame and byte counters.
func (e *Encoder) Progress() (frames uint64, bytes int64) {
	e.status.mu.Lock()
	defer e.status.mu.Unlock()
	return e.status.framesEncoded, e.status.bytesWritten
}

// Finish flushes queued frames, closes the output and waits for the worker.
// When ctx ends first the partial statistics are returned with ctx's error.
func (e *Encoder) Finish(ctx context.Context) (Stats, error) {
	e.finishOnce.Do(func() { close(e.finished) })

	select {
	case <-e.done:
	case <-ctx.Done():
		return e.partial(ctx.Err())
	}
	return e.result, e.status.latched()
}

func (e *Encoder) partial(cause error) (Stats, error) {
	frames, bytes := e.Progress()
	return Stats{FramesEncoded: frames, BytesWritten: bytes}, errors.New(cause).
		Component("encoding").
		Category(errors.CategoryTimeout).
		Context("operation", "finish").
		Build()
}

func (e *Encoder) run(sink Sink) {
	defer close(e.done)

	log := e.cfg.Logger
	start := e.cfg.Now()

	var (
		encoded  uint64
		stale    uint64
		firstPTS time.Duration
		havePTS  bool
		lastEnd  time.Duration
		liveMode bool
		failed   bool
	)

	next := func() (preroll.Frame, bool) {
		select {
		case f := <-e.queue:
			return f, true
		case <-e.finished:
			// flush whatever was queued before finish
			select {
			case f := <-e.queue:
				return f, true
			default:
				return preroll.Frame{}, false
			}
		}
	}

	for {
		frame, ok := next()
		if !ok {
			break
		}

		// Pre-roll frames are old by design; only frames after the first
		// fresh one are candidates for the stale drop.
		age := e.cfg.Now().Sub(frame.CapturedAt)
		if age <= e.cfg.StaleAfter {
			liveMode = true
		} else if liveMode {
			stale++
			if stale == 1 || stale%30 == 0 {
				log.Debug("dropping stale frame",
					logger.Duration("age", age),
					logger.Uint64("stale_total", stale))
			}
			continue
		}

		if !havePTS {
			firstPTS = frame.PTS
			havePTS = true
		}
		pts := max(frame.PTS-firstPTS, 0)

		if err := sink.WriteFrame(frame, pts); err != nil {
			e.status.latch(errors.New(err).
				Component("encoding").
				Category(errors.CategoryEncoding).
				Context("operation", "write_frame").
				Context("frames_encoded", encoded).
				Build())
			log.Error("encoder failed", logger.Error(err))
			failed = true
			break
		}

		lastEnd = max(lastEnd, pts+frame.Duration)
		encoded++
		e.status.mu.Lock()
		e.status.framesEncoded = encoded
		e.status.mu.Unlock()

		if encoded%progressEvery == 0 {
			log.Debug("encoding progress",
				logger.Uint64("frames_encoded", encoded),
				logger.Uint64("stale_dropped", stale))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), e.cfg.FinishTimeout)
	bytesWritten, err := sink.Close(closeCtx)
	cancel()
	if err != nil {
		log.Warn("encoder did not finalize cleanly, keeping partial output", logger.Error(err))
		if !failed {
			e.status.latch(errors.New(err).
				Component("encoding").
				Category(errors.CategoryEncoding).
				Context("operation", "close_sink").
				Build())
		}
	}

	bytesWritten = e.remux(bytesWritten)

	elapsed := e.cfg.Now().Sub(start)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(encoded) / elapsed.Seconds()
	}
	e.result = Stats{
		FramesEncoded:    encoded,
		FramesDropped:    stale,
		BytesWritten:     bytesWritten,
		EncodingDuration: elapsed,
		ContentDuration:  lastEnd,
		AverageFPS:       fps,
	}
	e.status.mu.Lock()
	e.status.bytesWritten = bytesWritten
	e.status.mu.Unlock()

	log.Info("encoding finished",
		logger.Uint64("frames_encoded", encoded),
		logger.Uint64("stale_dropped", stale),
		logger.Int64("bytes_written", bytesWritten),
		logger.Float64("average_fps", fps),
		logger.Duration("content_duration", lastEnd))
}

// remux embeds the duration header and falls back to the original file on
// failure.
func (e *Encoder) remux(size int64) int64 {
	if e.cfg.Remux == nil || e.cfg.OutputPath == "" || !e.cfg.Codec.NeedsRemux() {
		return size
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FinishTimeout)
	defer cancel()

	remuxed, err := e.cfg.Remux(ctx, e.cfg.OutputPath)
	if err != nil {
		e.cfg.Logger.Warn("remux failed, keeping original file",
			logger.String("path", e.cfg.OutputPath), logger.Error(err))
		if info, statErr := os.Stat(e.cfg.OutputPath); statErr == nil {
			return info.Size()
		}
		return size
	}
	return remuxed
}
