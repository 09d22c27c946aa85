// Package service assembles the recorder from settings and runs it until
// its context is cancelled.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/api"
	"github.com/tphakala/preroll-recorder/internal/audio"
	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/buildinfo"
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/datastore"
	"github.com/tphakala/preroll-recorder/internal/diskguard"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/midi"
	"github.com/tphakala/preroll-recorder/internal/notification"
	"github.com/tphakala/preroll-recorder/internal/observability"
	"github.com/tphakala/preroll-recorder/internal/observability/metrics"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/recording"
	"github.com/tphakala/preroll-recorder/internal/watchdog"
)

const (
	busShutdownTimeout = 5 * time.Second
	finalizeTimeout    = 60 * time.Second
	telemetryFlush     = 2 * time.Second
)

// GetLogger returns the service package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("service")
}

// Service owns every long-lived component of a recording run.
type Service struct {
	settings *conf.Settings
	build    *buildinfo.Context
	log      logger.Logger

	metrics     *observability.Metrics
	store       *datastore.Store
	bus         *events.Bus
	coordinator *recording.Coordinator
	watchdog    *watchdog.Watchdog
	server      *api.Server

	closers []func()
}

// New builds the components described by settings. Devices are not opened
// until Run.
func New(settings *conf.Settings, build *buildinfo.Context) (svc *Service, err error) {
	s := &Service{settings: settings, build: build, log: GetLogger()}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.initTelemetry()

	if settings.Metrics.Enabled {
		if s.metrics, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	if s.store, err = datastore.Open(&settings.Datastore); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close datastore", logger.Error(err))
		}
	})

	s.bus = events.NewBus(notification.BusConfig(&settings.Notification))
	s.closers = append(s.closers, func() {
		if err := s.bus.Shutdown(busShutdownTimeout); err != nil {
			s.log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	})
	cleanup, err := notification.Setup(s.bus, &settings.Notification, s.notificationMetrics())
	s.closers = append(s.closers, cleanup)
	if err != nil {
		return nil, err
	}

	ffmpegPath := ""
	if needsFFmpeg(settings) {
		if ffmpegPath, err = conf.ValidateToolPath(settings.FFmpeg.Path, conf.GetFfmpegBinaryName()); err != nil {
			return nil, err
		}
	}

	cfg, err := recordingConfig(settings, ffmpegPath)
	if err != nil {
		return nil, err
	}
	opts := []recording.Option{
		recording.WithMIDIOpener(openMIDI),
		recording.WithAudioSourceFactory(func(dc audio.DeviceConfig) audio.Source {
			return audio.NewMalgoSource(dc)
		}),
		recording.WithSessionIndex(s.store),
		recording.WithPublisher(s.bus),
		recording.WithSpaceChecker(diskguard.New(settings.Recording.MinFreeSpaceMB)),
	}
	if s.metrics != nil {
		opts = append(opts, recording.WithMetrics(s.metrics.Recorder))
	}
	if len(settings.Video.Devices) > 0 {
		rig, err := newVideoRig(settings, ffmpegPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, recording.WithVideo(rig))
	}
	s.coordinator = recording.New(cfg, opts...)
	s.watchdog = watchdog.New(s.coordinator, settings.Recording.IdleTimeout())

	if settings.API.Enabled {
		apiOpts := []api.ServerOption{
			api.WithRecorder(s.coordinator),
			api.WithSessions(s.store),
			api.WithVersion(build.GetVersion()),
		}
		if s.metrics != nil {
			apiOpts = append(apiOpts, api.WithMetrics(s.metrics.Handler()))
		}
		s.server = api.New(api.ConfigFromSettings(settings), apiOpts...)
	}
	return s, nil
}

func (s *Service) initTelemetry() {
	t := s.settings.Telemetry
	if !t.Enabled || t.DSN == "" {
		return
	}
	reporter, err := errors.InitSentry(t.DSN, s.build.GetVersion())
	if err != nil {
		s.log.Warn("error telemetry disabled", logger.Error(err))
		return
	}
	errors.SetTelemetryReporter(reporter)
	s.closers = append(s.closers, func() {
		errors.SetTelemetryReporter(nil)
		reporter.Flush(telemetryFlush)
	})
	s.log.Info("error telemetry enabled")
}

func (s *Service) notificationMetrics() *metrics.NotificationMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Notification
}

// close releases components in reverse creation order.
func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Coordinator returns the recording coordinator.
func (s *Service) Coordinator() *recording.Coordinator {
	return s.coordinator
}

// Run opens the devices, serves the control API and blocks until ctx is
// cancelled. A running session is finalized before Run returns.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	s.log.Info("starting recorder",
		logger.String("version", s.build.GetVersion()),
		logger.String("storage", s.settings.Recording.StoragePath),
		logger.Duration("pre_roll", s.settings.Recording.PreRoll()),
		logger.Duration("idle_timeout", s.settings.Recording.IdleTimeout()))

	// with no devices the API stays up so inputs can be restarted later
	if err := s.coordinator.Start(ctx); err != nil {
		if !errors.Is(err, errors.ErrNoDevices) {
			finalize, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			s.coordinator.Close(finalize)
			return err
		}
		s.log.Warn("no input devices available", logger.Error(err))
	}

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			finalize, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			s.coordinator.Close(finalize)
			return err
		}
	}

	var wg sync.WaitGroup
	wdCtx, stopWatchdog := context.WithCancel(ctx)
	wg.Go(func() { s.watchdog.Run(wdCtx) })

	<-ctx.Done()
	s.log.Info("shutdown requested")

	stopWatchdog()
	wg.Wait()

	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(shutdown); err != nil {
			s.log.Warn("control API shutdown failed", logger.Error(err))
		}
	}
	s.coordinator.Close(shutdown)

	fields := []logger.Field{}
	if s.metrics != nil {
		fields = append(fields, logger.Int64("sessions_recorded", int64(s.metrics.Recorder.SessionsStartedTotal())))
	}
	s.log.Info("recorder stopped", fields...)
	return nil
}

func needsFFmpeg(settings *conf.Settings) bool {
	return len(settings.Video.Devices) > 0
}

// openMIDI adapts midi.Open to the coordinator. A failed open must not
// produce a typed nil input.
func openMIDI(names []string, handle func(preroll.MIDIEvent)) (recording.MIDIInput, error) {
	l, err := midi.Open(names, handle)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// recordingConfig translates settings into the coordinator configuration.
func recordingConfig(settings *conf.Settings, ffmpegPath string) (recording.Config, error) {
	r := &settings.Recording
	format, err := audiofile.ParseFormat(r.AudioFormat, r.BitDepth)
	if err != nil {
		return recording.Config{}, err
	}

	devices := make([]audio.DeviceConfig, 0, len(settings.Audio.Devices))
	for _, d := range settings.Audio.Devices {
		devices = append(devices, audio.DeviceConfig{Name: d.Name, SampleRate: d.SampleRate, Channels: d.Channels})
	}
	var audioTrigger []string
	if settings.Audio.Trigger.Enabled {
		audioTrigger = settings.Audio.Trigger.Devices
	}

	return recording.Config{
		StoragePath:       conf.GetBasePath(r.StoragePath),
		PreRoll:           r.PreRoll(),
		Format:            format,
		PadTolerance:      r.PadTolerance(),
		CombineAudioVideo: r.CombineAudioVideo && len(settings.Video.Devices) > 0,
		FFmpegPath:        ffmpegPath,
		TriggerMIDI:       settings.MIDI.TriggerDevices,
		RecordMIDI:        settings.MIDI.RecordDevices,
		Audio:             devices,
		AudioTrigger:      audioTrigger,
		AudioThreshold:    settings.Audio.Trigger.Threshold,
	}, nil
}
