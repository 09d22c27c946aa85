package recording

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/midi"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/session"
	"github.com/tphakala/preroll-recorder/internal/video"
)

// activeSession owns the file writers of a running session. Writers are
// only touched under ioMu, never under the capture state lock.
type activeSession struct {
	meta *session.Metadata
	log  logger.Logger

	ioMu       sync.Mutex
	midi       map[string]*midi.Writer
	midiOrder  []string
	midiFailed map[string]bool
	audio      []*audiofile.Writer
	metrics    *metrics.RecorderMetrics

	stopFlush context.CancelFunc
	flushDone chan struct{}
}

func (a *activeSession) midiWriter(device string) *midi.Writer {
	if w, ok := a.midi[device]; ok {
		return w
	}
	if a.midiFailed[device] {
		return nil
	}
	w, err := midi.Create(a.meta.Path, device)
	if err != nil {
		a.log.Error("failed to create MIDI file",
			logger.String("device", device),
			logger.Error(err))
		a.midiFailed[device] = true
		a.metrics.FileError(metrics.StreamMIDI)
		return nil
	}
	a.midi[device] = w
	a.midiOrder = append(a.midiOrder, device)
	return w
}

// write appends recorded data to the session files.
func (a *activeSession) write(events []preroll.TimedMIDIEvent, audio [][]float32) {
	a.ioMu.Lock()
	defer a.ioMu.Unlock()

	for _, ev := range events {
		if w := a.midiWriter(ev.Device); w != nil {
			w.WriteEvent(ev)
		}
	}
	for i, samples := range audio {
		if len(samples) == 0 || i >= len(a.audio) || a.audio[i] == nil {
			continue
		}
		if err := a.audio[i].Write(samples); err != nil {
			a.log.Error("failed to write audio",
				logger.String("device", a.audio[i].Device()),
				logger.Error(err))
			a.metrics.FileError(metrics.StreamAudio)
		}
	}
}

// startFlusher moves recorded data from the capture state to the files
// every flushInterval until stopFlusher is called.
func (a *activeSession) startFlusher(state *CaptureState) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopFlush = cancel
	a.flushDone = make(chan struct{})
	go func() {
		defer close(a.flushDone)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.write(state.Take())
			}
		}
	}()
}

func (a *activeSession) stopFlusher() {
	if a.stopFlush == nil {
		return
	}
	a.stopFlush()
	<-a.flushDone
}

// startRecording runs after a successful Begin. It creates the session
// directory, starts video, drains the pre-roll onto a shared timeline and
// flips the capture state to recording.
func (c *Coordinator) startRecording(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	log := GetLogger()

	created := c.now()
	dir := session.DirFor(c.cfg.StoragePath, created)
	if c.disk != nil {
		c.disk.Check(c.cfg.StoragePath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.state.Abort()
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "create_session_dir").
			Context("path", dir).
			Build()
	}

	var videoPreroll *time.Duration
	videoStart := c.now()
	if c.video != nil && c.video.Count() > 0 {
		d, err := c.video.StartRecording(ctx, dir)
		switch {
		case err != nil:
			log.Warn("video recording failed to start", logger.Error(err))
		case d > 0:
			videoPreroll = &d
		}
	}
	trigger := c.now()
	delay := trigger.Sub(videoStart)

	as := &activeSession{
		meta:       session.New(dir, trigger),
		log:        log.With(logger.String("session", dir)),
		midi:       make(map[string]*midi.Writer),
		midiFailed: make(map[string]bool),
		metrics:    c.metrics,
	}
	layouts := c.state.AudioLayouts()
	as.audio = make([]*audiofile.Writer, len(layouts))
	ext := c.cfg.Format.Container.Extension()
	for i, l := range layouts {
		name := session.AudioFileName(i, len(layouts), ext)
		w, err := audiofile.Create(dir, name, l.Device, c.cfg.Format, l.SampleRate, l.Channels)
		if err != nil {
			log.Error("failed to create audio file",
				logger.String("device", l.Device),
				logger.Error(err))
			c.metrics.FileError(metrics.StreamAudio)
			continue
		}
		as.audio[i] = w
	}
	for _, device := range c.midiDevices() {
		if c.recordMIDI[device] {
			as.midiWriter(device)
		}
	}

	act := c.state.Activate(trigger, videoPreroll, delay)
	as.write(act.MIDI, act.Audio)

	c.mu.Lock()
	c.active = as
	c.startedAt = trigger
	c.phase = StateRecording
	c.mu.Unlock()
	as.startFlusher(c.state)

	if err := session.Save(as.meta); err != nil {
		log.Warn("failed to write initial session metadata", logger.Error(err))
	}

	var shared time.Duration
	if act.Sync != nil {
		shared = *act.Sync
	}
	c.metrics.SessionStarted(shared)
	log.Info("recording started",
		logger.String("session", dir),
		logger.Duration("preroll_sync", shared),
		logger.Bool("video_preroll", videoPreroll != nil),
		logger.Duration("video_start_delay", delay),
		logger.Int("midi_preroll_events", len(act.MIDI)))

	c.publish(events.RecordingStarted, as.meta, c.activeDeviceNames())
	return nil
}

func (c *Coordinator) activeDeviceNames() []string {
	var names []string
	names = append(names, c.midiDevices()...)
	names = append(names, c.audioDevices()...)
	names = append(names, c.videoDevices()...)
	return names
}

func (c *Coordinator) publish(kind events.Kind, meta *session.Metadata, devices []string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(events.RecordingEvent{
		Kind:         kind,
		SessionID:    meta.ID,
		SessionPath:  meta.Path,
		Devices:      devices,
		DurationSecs: meta.DurationSecs,
		Timestamp:    c.now(),
	})
}

func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// stopRecording finalizes the running session. Errors on individual
// streams are logged and do not abort the stop.
func (c *Coordinator) stopRecording(ctx context.Context, reason string) (*session.Metadata, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	log := GetLogger()

	end, ok := c.state.End(c.now())
	if !ok {
		return nil, errors.ErrNotRecording
	}

	c.mu.Lock()
	as := c.active
	c.phase = StateStopping
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.phase = StateIdle
		c.mu.Unlock()
	}()

	as.stopFlusher()

	var videoFiles []video.FileInfo
	if c.video != nil {
		videoFiles = c.video.StopRecording(ctx)
	}

	as.write(end.MIDI, end.Audio)
	meta := as.meta

	as.ioMu.Lock()
	defer as.ioMu.Unlock()

	for _, device := range as.midiOrder {
		info, err := as.midi[device].Finish()
		if err != nil {
			log.Error("failed to finalize MIDI file",
				logger.String("device", device),
				logger.Error(err))
			c.metrics.FileError(metrics.StreamMIDI)
		}
		meta.MIDIFiles = append(meta.MIDIFiles, info)
	}

	target := end.Elapsed
	for _, v := range videoFiles {
		target = max(target, secs(v.DurationSecs))
	}
	for _, w := range as.audio {
		if w != nil {
			target = max(target, w.Duration())
		}
	}

	duration := target
	for _, w := range as.audio {
		if w == nil {
			continue
		}
		if d := w.Duration(); d < target-c.cfg.PadTolerance {
			if err := w.PushSilence(target - d); err != nil {
				log.Warn("failed to pad audio",
					logger.String("device", w.Device()),
					logger.Error(err))
			} else {
				c.metrics.AudioPadded(target - d)
				log.Debug("padded audio to session length",
					logger.String("device", w.Device()),
					logger.Duration("padding", target-d))
			}
		}
		info, err := w.Finish()
		if err != nil {
			log.Error("failed to finalize audio file",
				logger.String("device", w.Device()),
				logger.Error(err))
			c.metrics.FileError(metrics.StreamAudio)
			continue
		}
		meta.AudioFiles = append(meta.AudioFiles, info)
		duration = max(duration, secs(info.DurationSecs))
	}

	for _, v := range videoFiles {
		meta.VideoFiles = append(meta.VideoFiles, session.VideoFile{
			Filename:     v.Filename,
			Device:       v.Device,
			DurationSecs: v.DurationSecs,
			SizeBytes:    v.SizeBytes,
		})
	}
	meta.DurationSecs = duration.Seconds()

	if c.cfg.CombineAudioVideo && len(meta.AudioFiles) == 1 && len(meta.VideoFiles) == 1 {
		if err := c.combine(ctx, meta); err != nil {
			log.Warn("failed to combine audio and video, keeping separate files", logger.Error(err))
			c.metrics.FileError(metrics.StreamVideo)
		}
	}

	if err := session.Save(meta); err != nil {
		log.Error("failed to write session metadata", logger.Error(err))
	}
	if c.index != nil {
		if err := c.index.SaveSession(ctx, meta); err != nil {
			log.Error("failed to index session", logger.Error(err))
		}
	}

	c.metrics.SessionStopped(reason, duration)
	log.Info("recording stopped",
		logger.String("session", meta.Path),
		logger.String("reason", reason),
		logger.Float64("duration_secs", meta.DurationSecs),
		logger.Int("audio_files", len(meta.AudioFiles)),
		logger.Int("midi_files", len(meta.MIDIFiles)),
		logger.Int("video_files", len(meta.VideoFiles)))

	c.publish(events.RecordingStopped, meta, c.activeDeviceNames())
	return meta, nil
}

// combine muxes the single audio file into the single video file. On
// success the separate files are replaced by one Matroska file.
func (c *Coordinator) combine(ctx context.Context, meta *session.Metadata) error {
	vf := &meta.VideoFiles[0]
	af := meta.AudioFiles[0]
	videoPath := filepath.Join(meta.Path, vf.Filename)
	audioPath := filepath.Join(meta.Path, af.Filename)

	base := strings.TrimSuffix(vf.Filename, filepath.Ext(vf.Filename))
	tmp := filepath.Join(meta.Path, base+".combined.mkv")
	if err := c.mux(ctx, videoPath, audioPath, tmp); err != nil {
		return err
	}

	final := base + ".mkv"
	if err := os.Rename(tmp, filepath.Join(meta.Path, final)); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_combined").
			Build()
	}
	if final != vf.Filename {
		_ = os.Remove(videoPath)
	}
	_ = os.Remove(audioPath)

	if st, err := os.Stat(filepath.Join(meta.Path, final)); err == nil {
		vf.SizeBytes = st.Size()
	}
	vf.Filename = final
	vf.HasAudio = true
	meta.AudioFiles = []session.AudioFile{}
	return nil
}
