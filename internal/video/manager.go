// Package video captures raw frames from cameras, keeps a pre-roll window
// of them and hands them to encoders while a session is recording.
package video

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/preroll-recorder/internal/encoding"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// PollInterval is the cadence of the frame poller.
const PollInterval = 10 * time.Millisecond

// Device binds a pipeline to the source that feeds it.
type Device struct {
	Config DeviceConfig
	Source Source
}

// Manager owns the video pipelines of all selected devices.
type Manager struct {
	newEncoder func(DeviceConfig) EncoderFactory
	onWarning  func(FPSWarning)
	onAbort    func(device string, err error)

	mu        sync.Mutex
	window    time.Duration
	pipelines []*Pipeline
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFPSWarningHandler registers a callback for FPS mismatch warnings.
func WithFPSWarningHandler(fn func(FPSWarning)) ManagerOption {
	return func(m *Manager) { m.onWarning = fn }
}

// WithAbortHandler registers a callback for recordings aborted by the poller.
func WithAbortHandler(fn func(device string, err error)) ManagerOption {
	return func(m *Manager) { m.onAbort = fn }
}

// NewManager creates a manager. newEncoder builds the encoder factory for a
// device.
func NewManager(window time.Duration, newEncoder func(DeviceConfig) EncoderFactory, opts ...ManagerOption) *Manager {
	m := &Manager{newEncoder: newEncoder, window: window}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FFmpegEncoderFactory returns encoder factories that encode through ffmpeg
// with the given backend resolution.
func FFmpegEncoderFactory(ffmpegPath string, backend encoding.Backend, preset, keyframeInterval, queueSize int) func(DeviceConfig) EncoderFactory {
	return func(dc DeviceConfig) EncoderFactory {
		return func(ctx context.Context, path string) (*encoding.Encoder, error) {
			resolved, err := encoding.ResolveBackend(ctx, backend, dc.Codec, encoding.FFmpegEncoders(ffmpegPath))
			if err != nil {
				return nil, err
			}
			sink, err := encoding.NewFFmpegSink(context.WithoutCancel(ctx), encoding.SinkConfig{
				FFmpegPath:       ffmpegPath,
				OutputPath:       path,
				Width:            dc.Source.Width,
				Height:           dc.Source.Height,
				FPS:              dc.Source.FPS,
				PixelFormat:      dc.Source.PixelFormat,
				Codec:            dc.Codec,
				Backend:          resolved,
				Preset:           preset,
				KeyframeInterval: keyframeInterval,
			})
			if err != nil {
				return nil, err
			}
			return encoding.NewEncoder(encoding.Config{
				OutputPath: path,
				Codec:      dc.Codec,
				QueueSize:  queueSize,
				Remux:      encoding.FFmpegRemuxer(ffmpegPath),
			}, sink), nil
		}
	}
}

// Start launches capture for every device. A device whose source fails is
// logged and its pipeline stays idle.
func (m *Manager) Start(ctx context.Context, devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	for _, d := range devices {
		p := NewPipeline(d.Config, m.window, m.newEncoder(d.Config))
		m.pipelines = append(m.pipelines, p)
		src := d.Source
		m.wg.Go(func() {
			if err := src.Run(ctx, p.OnFrame); err != nil {
				GetLogger().Warn("video source stopped", logger.String("device", p.Name()), logger.Error(err))
			}
		})
	}
	GetLogger().Info("video capture started", logger.Int("devices", len(devices)))
}

// Stop ends all capture and finalizes any active recording.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	pipelines := m.pipelines
	m.pipelines = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	for _, p := range pipelines {
		if p.IsRecording() {
			ctx, done := context.WithTimeout(context.Background(), encoding.DefaultFinishTimeout)
			_, _ = p.StopRecording(ctx)
			done()
		}
	}
}

func (m *Manager) snapshot() []*Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Pipeline(nil), m.pipelines...)
}

// Count returns the number of pipelines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipelines)
}

// Names returns the device names of all pipelines.
func (m *Manager) Names() []string {
	var names []string
	for _, p := range m.snapshot() {
		names = append(names, p.Name())
	}
	return names
}

// StartRecording starts every pipeline and returns the longest pre-roll any
// of them wrote. Pipelines that fail to start are skipped.
func (m *Manager) StartRecording(ctx context.Context, dir string) (time.Duration, error) {
	var longest time.Duration
	for _, p := range m.snapshot() {
		d, err := p.StartRecording(ctx, dir)
		if err != nil {
			GetLogger().Warn("video pipeline failed to start recording",
				logger.String("device", p.Name()), logger.Error(err))
			continue
		}
		longest = max(longest, d)
	}
	return longest, nil
}

// StopRecording finalizes all recording pipelines in parallel.
func (m *Manager) StopRecording(ctx context.Context) []FileInfo {
	pipelines := m.snapshot()
	results := make([]*FileInfo, len(pipelines))

	var g errgroup.Group
	for i, p := range pipelines {
		if !p.IsRecording() {
			continue
		}
		g.Go(func() error {
			info, err := p.StopRecording(ctx)
			if err != nil {
				GetLogger().Warn("video pipeline did not finalize cleanly",
					logger.String("device", p.Name()), logger.Error(err))
			}
			if info.Filename != "" && info.Filename != "." {
				results[i] = &info
			}
			return nil
		})
	}
	_ = g.Wait()

	var files []FileInfo
	for _, r := range results {
		if r != nil {
			files = append(files, *r)
		}
	}
	return files
}

// IsRecording reports whether any pipeline is recording.
func (m *Manager) IsRecording() bool {
	for _, p := range m.snapshot() {
		if p.IsRecording() {
			return true
		}
	}
	return false
}

// SetPrerollWindow changes the window of every pipeline.
func (m *Manager) SetPrerollWindow(window time.Duration) {
	m.mu.Lock()
	m.window = window
	m.mu.Unlock()
	for _, p := range m.snapshot() {
		p.SetPrerollWindow(window)
	}
}

// FrameCounts returns delivered frames per device.
func (m *Manager) FrameCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	for _, p := range m.snapshot() {
		counts[p.Name()] = p.FrameCount()
	}
	return counts
}

// PollOnce polls every pipeline and runs the FPS checks.
func (m *Manager) PollOnce() {
	for _, p := range m.snapshot() {
		if err := p.Poll(); err != nil && m.onAbort != nil {
			m.onAbort(p.Name(), err)
		}
		if w := p.CheckFPS(); w != nil && m.onWarning != nil {
			m.onWarning(*w)
		}
	}
}

// RunPoller polls at PollInterval until ctx ends.
func (m *Manager) RunPoller(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollOnce()
		}
	}
}
