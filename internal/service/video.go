package service

import (
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/encoding"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/video"
)

// videoDevices converts the configured cameras into capture devices and
// their per-device encoder settings.
func videoDevices(settings *conf.Settings, ffmpegPath string) ([]video.Device, map[string]conf.VideoDevice, error) {
	devices := make([]video.Device, 0, len(settings.Video.Devices))
	byID := make(map[string]conf.VideoDevice, len(settings.Video.Devices))
	for _, d := range settings.Video.Devices {
		codec, err := encoding.ParseCodec(d.Codec)
		if err != nil {
			return nil, nil, err
		}
		if _, err := encoding.ParseBackend(d.Backend); err != nil {
			return nil, nil, err
		}
		src := video.SourceConfig{
			FFmpegPath:  ffmpegPath,
			Name:        d.Name,
			Input:       d.Input,
			Width:       d.Width,
			Height:      d.Height,
			FPS:         d.FPS,
			PixelFormat: d.PixelFormat,
		}
		devices = append(devices, video.Device{
			Config: video.DeviceConfig{ID: d.ID, Source: src, Codec: codec},
			Source: video.NewFFmpegSource(src),
		})
		byID[d.ID] = d
	}
	return devices, byID, nil
}

// newVideoRig builds the video manager with one ffmpeg encoder per camera.
func newVideoRig(settings *conf.Settings, ffmpegPath string) (*video.Rig, error) {
	devices, byID, err := videoDevices(settings, ffmpegPath)
	if err != nil {
		return nil, err
	}

	newEncoder := func(dc video.DeviceConfig) video.EncoderFactory {
		d := byID[dc.ID]
		// backend was validated in videoDevices
		backend, _ := encoding.ParseBackend(d.Backend)
		return video.FFmpegEncoderFactory(ffmpegPath, backend, d.Preset, d.KeyframeInterval, d.QueueSize)(dc)
	}

	log := GetLogger()
	m := video.NewManager(settings.Recording.PreRoll(), newEncoder,
		video.WithFPSWarningHandler(func(w video.FPSWarning) {
			log.Warn("camera delivers fewer frames than configured",
				logger.String("device", w.Device),
				logger.Float64("actual_fps", w.ActualFPS),
				logger.Float64("expected_fps", w.ExpectedFPS))
		}),
		video.WithAbortHandler(func(device string, err error) {
			log.Error("video recording aborted", logger.String("device", device), logger.Error(err))
		}))
	return video.NewRig(m, devices), nil
}
