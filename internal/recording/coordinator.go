// Package recording turns device input into recorded sessions: it routes
// MIDI and audio between the pre-roll buffers and the running session,
// decides when a session starts and stops, and finalizes its files.
package recording

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/audio"
	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/encoding"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/midi"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/session"
	"github.com/tphakala/preroll-recorder/internal/video"
)

// State is the coarse lifecycle state reported to clients.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateInitializing State = "initializing"
)

// Status is a snapshot of the coordinator.
type Status struct {
	State        State      `json:"state"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	SessionPath  string     `json:"session_path,omitempty"`
	ElapsedSecs  float64    `json:"elapsed_seconds"`
	MIDIDevices  []string   `json:"midi_devices"`
	AudioDevices []string   `json:"audio_devices"`
	VideoDevices []string   `json:"video_devices"`
}

// Level is the current input level of one audio device.
type Level struct {
	Device string  `json:"device"`
	RMS    float32 `json:"rms"`
	Peak   float32 `json:"peak"`
}

// Config selects devices and session output.
type Config struct {
	StoragePath       string
	PreRoll           time.Duration
	Format            audiofile.Format
	PadTolerance      time.Duration
	CombineAudioVideo bool
	FFmpegPath        string

	TriggerMIDI []string
	RecordMIDI  []string

	Audio          []audio.DeviceConfig
	AudioTrigger   []string
	AudioThreshold float64
}

// DefaultPadTolerance is how much shorter than the session an audio file
// may be before it is padded with silence.
const DefaultPadTolerance = 100 * time.Millisecond

// flushInterval paces writes of recorded data to the session files.
const flushInterval = 100 * time.Millisecond

// VideoCapture is the video side of the recorder.
type VideoCapture interface {
	Open(ctx context.Context) error
	Close()
	Count() int
	Names() []string
	StartRecording(ctx context.Context, dir string) (time.Duration, error)
	StopRecording(ctx context.Context) []video.FileInfo
	SetPrerollWindow(window time.Duration)
}

// MIDIInput is a set of connected MIDI ports.
type MIDIInput interface {
	Devices() []string
	Close()
}

// MIDIOpener connects to the named MIDI ports.
type MIDIOpener func(names []string, handle func(preroll.MIDIEvent)) (MIDIInput, error)

// SessionIndex stores finished sessions.
type SessionIndex interface {
	SaveSession(ctx context.Context, m *session.Metadata) error
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(event events.RecordingEvent) bool
}

// SpaceChecker warns about low disk space before a session starts. It
// reports whether space is low; a low volume never blocks the start.
type SpaceChecker interface {
	Check(path string) bool
}

// Muxer combines one video and one audio file into outPath.
type Muxer func(ctx context.Context, videoPath, audioPath, outPath string) error

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMIDIOpener sets how MIDI ports are opened.
func WithMIDIOpener(open MIDIOpener) Option {
	return func(c *Coordinator) { c.openMIDI = open }
}

// WithAudioSourceFactory sets how audio devices are opened.
func WithAudioSourceFactory(f func(audio.DeviceConfig) audio.Source) Option {
	return func(c *Coordinator) { c.newAudioSource = f }
}

// WithVideo attaches video capture.
func WithVideo(v VideoCapture) Option {
	return func(c *Coordinator) { c.video = v }
}

// WithSessionIndex attaches the session index.
func WithSessionIndex(idx SessionIndex) Option {
	return func(c *Coordinator) { c.index = idx }
}

// WithPublisher attaches the lifecycle event publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithSpaceChecker attaches the disk space check.
func WithSpaceChecker(s SpaceChecker) Option {
	return func(c *Coordinator) { c.disk = s }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.RecorderMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithMuxer replaces the ffmpeg based audio and video muxer.
func WithMuxer(m Muxer) Option {
	return func(c *Coordinator) { c.mux = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type meterSlot struct {
	mu      sync.Mutex
	meter   *audio.LevelMeter
	device  string
	trigger bool
}

// Coordinator owns the capture state and the session lifecycle.
type Coordinator struct {
	cfg   Config
	state *CaptureState

	openMIDI       MIDIOpener
	newAudioSource func(audio.DeviceConfig) audio.Source
	video          VideoCapture
	index          SessionIndex
	publisher      Publisher
	disk           SpaceChecker
	metrics        *metrics.RecorderMetrics
	mux            Muxer
	now            func() time.Time

	triggerMIDI map[string]bool
	recordMIDI  map[string]bool

	// opMu serializes session start, stop and device restarts.
	opMu sync.Mutex

	mu           sync.RWMutex
	phase        State
	startedAt    time.Time
	active       *activeSession
	lastActivity time.Time
	midiIn       MIDIInput
	audioRunning []string
	meters       []*meterSlot
	closed       bool

	audioCancel context.CancelFunc
	audioWG     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates an idle coordinator. Devices are opened by Start.
func New(cfg Config, opts ...Option) *Coordinator {
	if cfg.PadTolerance <= 0 {
		cfg.PadTolerance = DefaultPadTolerance
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:         cfg,
		state:       NewCaptureState(cfg.PreRoll, layoutsFor(cfg.Audio)),
		now:         time.Now,
		triggerMIDI: setOf(cfg.TriggerMIDI),
		recordMIDI:  setOf(cfg.RecordMIDI),
		phase:       StateIdle,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mux == nil {
		ffmpeg := cfg.FFmpegPath
		c.mux = func(ctx context.Context, videoPath, audioPath, outPath string) error {
			return encoding.MuxAudioVideo(ctx, ffmpeg, videoPath, audioPath, outPath)
		}
	}
	c.meters = c.newMeters()
	return c
}

func setOf(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func layoutsFor(devices []audio.DeviceConfig) []AudioLayout {
	layouts := make([]AudioLayout, 0, len(devices))
	for _, d := range devices {
		layouts = append(layouts, AudioLayout{Device: d.Name, SampleRate: d.SampleRate, Channels: d.Channels})
	}
	return layouts
}

func (c *Coordinator) newMeters() []*meterSlot {
	triggers := setOf(c.cfg.AudioTrigger)
	slots := make([]*meterSlot, len(c.cfg.Audio))
	for i, d := range c.cfg.Audio {
		slots[i] = &meterSlot{
			meter:   audio.NewLevelMeter(c.cfg.AudioThreshold, d.SampleRate, d.Channels),
			device:  d.Name,
			trigger: triggers[d.Name],
		}
	}
	return slots
}

// Start opens every configured device. Devices that fail are logged and
// left closed; the coordinator stays usable with the rest.
func (c *Coordinator) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setState(StateInitializing)
	defer c.setState(StateIdle)

	c.openMIDILocked()
	c.startAudioLocked()
	if c.video != nil {
		c.video.SetPrerollWindow(c.cfg.PreRoll)
		if err := c.video.Open(ctx); err != nil {
			GetLogger().Error("video capture failed to start", logger.Error(err))
		}
	}

	if c.deviceCount() == 0 {
		return errors.ErrNoDevices
	}
	return nil
}

func (c *Coordinator) midiNames() []string {
	names := slices.Clone(c.cfg.TriggerMIDI)
	for _, n := range c.cfg.RecordMIDI {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

func (c *Coordinator) openMIDILocked() {
	names := c.midiNames()
	if c.openMIDI == nil || len(names) == 0 {
		return
	}
	in, err := c.openMIDI(names, c.HandleMIDI)
	if err != nil {
		GetLogger().Error("MIDI inputs failed to open", logger.Error(err))
		return
	}
	c.mu.Lock()
	c.midiIn = in
	c.mu.Unlock()
}

func (c *Coordinator) closeMIDILocked() {
	c.mu.Lock()
	in := c.midiIn
	c.midiIn = nil
	c.mu.Unlock()
	if in != nil {
		in.Close()
	}
}

func (c *Coordinator) startAudioLocked() {
	if c.newAudioSource == nil || len(c.cfg.Audio) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.audioCancel = cancel

	var running []string
	for i, dev := range c.cfg.Audio {
		src := c.newAudioSource(dev)
		running = append(running, dev.Name)
		c.audioWG.Go(func() {
			err := src.Run(ctx, func(b preroll.AudioBlock) { c.HandleAudio(i, b) })
			if err != nil && ctx.Err() == nil {
				GetLogger().Error("audio input stopped",
					logger.String("device", dev.Name),
					logger.Error(err))
				c.dropAudioDevice(dev.Name)
			}
		})
	}
	c.mu.Lock()
	c.audioRunning = running
	c.mu.Unlock()
}

func (c *Coordinator) dropAudioDevice(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioRunning = slices.DeleteFunc(c.audioRunning, func(n string) bool { return n == name })
}

func (c *Coordinator) stopAudioLocked() {
	if c.audioCancel != nil {
		c.audioCancel()
		c.audioCancel = nil
	}
	c.audioWG.Wait()
	c.mu.Lock()
	c.audioRunning = nil
	c.mu.Unlock()
}

func (c *Coordinator) midiDevices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.midiIn == nil {
		return nil
	}
	return c.midiIn.Devices()
}

func (c *Coordinator) audioDevices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.audioRunning)
}

func (c *Coordinator) videoDevices() []string {
	if c.video == nil {
		return nil
	}
	return c.video.Names()
}

func (c *Coordinator) deviceCount() int {
	n := len(c.midiDevices()) + len(c.audioDevices())
	if c.video != nil {
		n += c.video.Count()
	}
	return n
}

// HandleMIDI processes one message from any connected port. A note-on from
// a trigger device starts a session; messages from record devices are
// recorded or buffered, and their note activity keeps a session alive.
func (c *Coordinator) HandleMIDI(ev preroll.MIDIEvent) {
	if c.recordMIDI[ev.Device] {
		c.state.PushMIDI(ev)
		if midi.IsNoteActivity(ev.Data) {
			c.touch()
		}
	}
	if c.triggerMIDI[ev.Device] && midi.IsNoteStart(ev.Data) {
		c.touch()
		c.HandleTrigger(metrics.SourceMIDI)
	}
}

// HandleAudio processes one block from audio input index.
func (c *Coordinator) HandleAudio(index int, block preroll.AudioBlock) {
	c.state.PushAudio(index, block)

	c.mu.RLock()
	var slot *meterSlot
	if index >= 0 && index < len(c.meters) {
		slot = c.meters[index]
	}
	c.mu.RUnlock()
	if slot == nil {
		return
	}

	slot.mu.Lock()
	loud := slot.meter.Process(block.Samples)
	slot.mu.Unlock()
	if loud && slot.trigger {
		c.touch()
		c.HandleTrigger(metrics.SourceAudio)
	}
}

// touch records trigger or note activity for the idle watchdog.
func (c *Coordinator) touch() {
	now := c.now()
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// HandleTrigger starts a session in the background unless one is already
// starting or running, or devices are being reinitialized. It reports
// whether a start was launched.
func (c *Coordinator) HandleTrigger(source string) bool {
	// held until the start is registered with bg so Close cannot miss it
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.phase == StateInitializing {
		return false
	}
	if !c.state.Begin() {
		return false
	}

	c.metrics.TriggerFired(source)
	GetLogger().Info("trigger received, starting recording", logger.String("source", source))
	c.bg.Go(func() {
		if err := c.startRecording(c.ctx); err != nil {
			GetLogger().Error("failed to start recording", logger.Error(err))
		}
	})
	return true
}

// ManualStart starts a session synchronously. Manual sessions are not
// stopped by the idle watchdog until trigger or note activity is seen.
func (c *Coordinator) ManualStart(ctx context.Context) error {
	if c.deviceCount() == 0 {
		return errors.ErrNoDevices
	}
	if c.currentState() == StateInitializing {
		return errors.ErrBusy
	}
	if !c.state.Begin() {
		return errors.ErrAlreadyRecording
	}
	c.mu.Lock()
	c.lastActivity = time.Time{}
	c.mu.Unlock()

	c.metrics.TriggerFired(metrics.SourceManual)
	return c.startRecording(ctx)
}

// ManualStop finalizes the running session.
func (c *Coordinator) ManualStop(ctx context.Context) (*session.Metadata, error) {
	return c.stopRecording(ctx, metrics.ReasonManual)
}

// StopIdle finalizes the running session on behalf of the idle watchdog.
func (c *Coordinator) StopIdle(ctx context.Context) error {
	_, err := c.stopRecording(ctx, metrics.ReasonIdle)
	return err
}

// IsRecording reports whether a session is running.
func (c *Coordinator) IsRecording() bool {
	return c.state.IsRecording()
}

// RecordingStartedAt returns when the running session started.
func (c *Coordinator) RecordingStartedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.phase != StateRecording {
		return time.Time{}, false
	}
	return c.startedAt, true
}

// LastActivity returns the time of the latest trigger or note activity.
func (c *Coordinator) LastActivity() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity, !c.lastActivity.IsZero()
}

// TriggerArmed reports whether any connected device can trigger a session.
func (c *Coordinator) TriggerArmed() bool {
	for _, d := range c.midiDevices() {
		if c.triggerMIDI[d] {
			return true
		}
	}
	triggers := setOf(c.cfg.AudioTrigger)
	for _, d := range c.audioDevices() {
		if triggers[d] {
			return true
		}
	}
	return false
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.phase = s
	c.mu.Unlock()
}

func (c *Coordinator) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	st := Status{
		MIDIDevices:  c.midiDevices(),
		AudioDevices: c.audioDevices(),
		VideoDevices: c.videoDevices(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st.State = c.phase
	if c.phase == StateRecording || c.phase == StateStopping {
		started := c.startedAt
		st.StartedAt = &started
		st.ElapsedSecs = c.now().Sub(started).Seconds()
		if c.active != nil {
			st.SessionPath = c.active.meta.Path
		}
	}
	return st
}

// Levels returns the current level of every audio input.
func (c *Coordinator) Levels() []Level {
	c.mu.RLock()
	slots := slices.Clone(c.meters)
	c.mu.RUnlock()

	levels := make([]Level, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		rms, peak := s.meter.Levels()
		s.mu.Unlock()
		levels = append(levels, Level{Device: s.device, RMS: rms, Peak: peak})
	}
	return levels
}

// restart runs fn with the coordinator marked initializing. It is refused
// while a session is starting or running.
func (c *Coordinator) restart(what string, fn func()) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.state.IsRecording() || c.state.Starting() {
		return errors.New(errors.ErrAlreadyRecording).
			Component("recording").
			Category(errors.CategoryState).
			Context("operation", "restart_"+what).
			Build()
	}
	c.setState(StateInitializing)
	defer c.setState(StateIdle)

	GetLogger().Info("restarting inputs", logger.String("pipeline", what))
	fn()
	return nil
}

// RestartMIDI reopens the MIDI ports.
func (c *Coordinator) RestartMIDI() error {
	return c.restart("midi", func() {
		c.closeMIDILocked()
		c.openMIDILocked()
	})
}

// RestartAudio reopens the audio inputs with empty pre-roll buffers.
func (c *Coordinator) RestartAudio() error {
	return c.restart("audio", func() {
		c.stopAudioLocked()
		c.state.SetAudioLayouts(layoutsFor(c.cfg.Audio))
		meters := c.newMeters()
		c.mu.Lock()
		c.meters = meters
		c.mu.Unlock()
		c.startAudioLocked()
	})
}

// RestartVideo reopens the video pipelines.
func (c *Coordinator) RestartVideo(ctx context.Context) error {
	if c.video == nil {
		return nil
	}
	var err error
	restartErr := c.restart("video", func() {
		c.video.Close()
		err = c.video.Open(ctx)
	})
	if restartErr != nil {
		return restartErr
	}
	return err
}

// Close finalizes a running session and releases every device.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// let a triggered start finish so its session can be finalized
	c.bg.Wait()
	if c.state.IsRecording() {
		if _, err := c.stopRecording(ctx, metrics.ReasonShutdown); err != nil {
			GetLogger().Error("failed to finalize session on shutdown", logger.Error(err))
		}
	}
	c.cancel()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeMIDILocked()
	c.stopAudioLocked()
	if c.video != nil {
		c.video.Close()
	}
}
