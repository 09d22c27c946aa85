package audio

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// handoffCapacity is how much audio may queue between the device callback
// and the pump before chunks are dropped.
const handoffCapacity = 2 * time.Second

// DeviceConfig selects one capture device.
type DeviceConfig struct {
	Name       string
	SampleRate int
	Channels   int
}

// Source captures interleaved float samples from a device.
type Source interface {
	Config() DeviceConfig
	Run(ctx context.Context, emit func(preroll.AudioBlock)) error
}

// MalgoSource captures from a miniaudio device.
type MalgoSource struct {
	cfg DeviceConfig
}

// NewMalgoSource returns a source for cfg.
func NewMalgoSource(cfg DeviceConfig) *MalgoSource {
	return &MalgoSource{cfg: cfg}
}

// Config implements Source.
func (s *MalgoSource) Config() DeviceConfig { return s.cfg }

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func initContext() (*malgo.AllocatedContext, error) {
	log := GetLogger()
	return malgo.InitContext(backends(), malgo.ContextConfig{}, func(message string) {
		log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
}

// ListDevices returns the names of all capture devices.
func ListDevices() ([]string, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, audioError(err, "init_context", "")
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, audioError(err, "list_devices", "")
	}
	names := make([]string, 0, len(infos))
	for i := range infos {
		names = append(names, infos[i].Name())
	}
	return names, nil
}

// Run opens the device and delivers blocks until ctx is done. The device
// callback only copies bytes into a Handoff; emit runs on the pump.
func (s *MalgoSource) Run(ctx context.Context, emit func(preroll.AudioBlock)) error {
	log := GetLogger().With(logger.String("device", s.cfg.Name))

	mctx, err := initContext()
	if err != nil {
		return audioError(err, "init_context", s.cfg.Name)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return audioError(err, "list_devices", s.cfg.Name)
	}
	var found *malgo.DeviceInfo
	for i := range infos {
		if infos[i].Name() == s.cfg.Name {
			found = &infos[i]
			break
		}
	}
	if found == nil {
		return errors.Newf("audio device %q not found", s.cfg.Name).
			Component("audio").
			Category(errors.CategoryNotFound).
			Build()
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.Capture.DeviceID = found.ID.Pointer()
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	handoff := NewHandoff(s.cfg.SampleRate, s.cfg.Channels, handoffCapacity)
	stopped := make(chan struct{}, 1)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			handoff.Write(input)
		},
		Stop: func() {
			select {
			case stopped <- struct{}{}:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		return audioError(err, "init_device", s.cfg.Name)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return audioError(err, "start_device", s.cfg.Name)
	}
	log.Info("audio input connected",
		logger.Int("sample_rate", s.cfg.SampleRate),
		logger.Int("channels", s.cfg.Channels))

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handoff.Pump(pumpCtx, emit)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case <-stopped:
		runErr = errors.Newf("audio device stopped unexpectedly").
			Component("audio").
			Category(errors.CategoryAudio).
			Context("device", s.cfg.Name).
			Build()
	}

	_ = device.Stop()
	cancel()
	<-done
	if n := handoff.Dropped(); n > 0 {
		log.Warn("audio chunks dropped", logger.Uint64("count", n))
	}
	return runErr
}

func audioError(err error, op, device string) error {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryAudio).
		Context("operation", op).
		Context("device", device).
		Build()
}
