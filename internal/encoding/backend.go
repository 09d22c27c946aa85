package encoding

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// Backend is an encoder implementation family.
type Backend int

const (
	BackendAuto Backend = iota
	BackendSoftware
	BackendNVENC
	BackendQSV
	BackendVAAPI
	BackendAMF
)

// vaapiDevice is the render node used for VA-API encoding.
const vaapiDevice = "/dev/dri/renderD128"

// String returns the configuration name of the backend.
func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendSoftware:
		return "software"
	case BackendNVENC:
		return "nvenc"
	case BackendQSV:
		return "qsv"
	case BackendVAAPI:
		return "vaapi"
	case BackendAMF:
		return "amf"
	default:
		return "unknown"
	}
}

// ParseBackend converts a configuration value into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "software":
		return BackendSoftware, nil
	case "nvenc":
		return BackendNVENC, nil
	case "qsv":
		return BackendQSV, nil
	case "vaapi":
		return BackendVAAPI, nil
	case "amf":
		return BackendAMF, nil
	default:
		return 0, errors.Newf("unsupported encoder backend %q", s).
			Component("encoding").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Profile is the ffmpeg configuration for one backend and codec pair.
type Profile struct {
	Encoder    string
	InputArgs  []string
	OutputArgs []string
}

// ProfileFor returns the ffmpeg encoder profile of backend b for codec c.
// It reports false when the backend cannot produce the codec.
func ProfileFor(b Backend, c Codec, preset, keyframeInterval int) (Profile, bool) {
	gop := []string{"-g", strconv.Itoa(max(keyframeInterval, 1))}

	switch b {
	case BackendSoftware:
		switch c {
		case CodecVP8:
			return Profile{Encoder: "libvpx", OutputArgs: append([]string{"-deadline", "realtime", "-cpu-used", strconv.Itoa(clamp(preset, 0, 16)), "-b:v", "0", "-crf", "10"}, gop...)}, true
		case CodecVP9:
			return Profile{Encoder: "libvpx-vp9", OutputArgs: append([]string{"-deadline", "realtime", "-cpu-used", strconv.Itoa(clamp(preset, 0, 8)), "-row-mt", "1", "-b:v", "0", "-crf", "32"}, gop...)}, true
		case CodecAV1:
			return Profile{Encoder: "libsvtav1", OutputArgs: append([]string{"-preset", strconv.Itoa(clamp(preset, 0, 13)), "-crf", "35"}, gop...)}, true
		case CodecFFV1:
			return Profile{Encoder: "ffv1", OutputArgs: []string{"-level", "3", "-g", "1"}}, true
		case CodecH264:
			return Profile{Encoder: "libx264", OutputArgs: append([]string{"-preset", "veryfast", "-tune", "zerolatency", "-crf", "23"}, gop...)}, true
		}
	case BackendNVENC:
		switch c {
		case CodecAV1:
			return Profile{Encoder: "av1_nvenc", OutputArgs: append([]string{"-preset", "p4"}, gop...)}, true
		case CodecH264:
			return Profile{Encoder: "h264_nvenc", OutputArgs: append([]string{"-preset", "p4"}, gop...)}, true
		}
	case BackendQSV:
		switch c {
		case CodecAV1:
			return Profile{Encoder: "av1_qsv", OutputArgs: gop}, true
		case CodecVP9:
			return Profile{Encoder: "vp9_qsv", OutputArgs: gop}, true
		case CodecH264:
			return Profile{Encoder: "h264_qsv", OutputArgs: gop}, true
		}
	case BackendVAAPI:
		hw := Profile{
			InputArgs:  []string{"-vaapi_device", vaapiDevice},
			OutputArgs: append([]string{"-vf", "format=nv12,hwupload"}, gop...),
		}
		switch c {
		case CodecAV1:
			hw.Encoder = "av1_vaapi"
		case CodecVP8:
			hw.Encoder = "vp8_vaapi"
		case CodecVP9:
			hw.Encoder = "vp9_vaapi"
		case CodecH264:
			hw.Encoder = "h264_vaapi"
		default:
			return Profile{}, false
		}
		return hw, true
	case BackendAMF:
		switch c {
		case CodecAV1:
			return Profile{Encoder: "av1_amf", OutputArgs: gop}, true
		case CodecH264:
			return Profile{Encoder: "h264_amf", OutputArgs: gop}, true
		}
	}
	return Profile{}, false
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// candidateOrder lists hardware backends to probe. Intel hosts try Quick
// Sync first since the iGPU is almost always present.
func candidateOrder() []Backend {
	switch cpuid.CPU.VendorID {
	case cpuid.Intel:
		return []Backend{BackendQSV, BackendNVENC, BackendVAAPI}
	case cpuid.AMD:
		return []Backend{BackendNVENC, BackendAMF, BackendVAAPI}
	default:
		return []Backend{BackendNVENC, BackendVAAPI}
	}
}

// EncoderLister returns the encoder names supported by the ffmpeg build.
type EncoderLister func(ctx context.Context) (string, error)

// FFmpegEncoders lists encoders by running "ffmpeg -encoders".
func FFmpegEncoders(ffmpegPath string) EncoderLister {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return "", errors.New(err).
				Component("encoding").
				Category(errors.CategorySystem).
				Context("operation", "list_encoders").
				Build()
		}
		return out.String(), nil
	}
}

// ResolveBackend picks a concrete backend for codec c. A backend other than
// auto is returned unchanged when it supports the codec. Auto probes the
// hardware candidates and falls back to software.
func ResolveBackend(ctx context.Context, b Backend, c Codec, list EncoderLister) (Backend, error) {
	if b != BackendAuto {
		if _, ok := ProfileFor(b, c, 0, 1); !ok {
			return b, errors.Newf("backend %s cannot encode %s", b, c).
				Component("encoding").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return b, nil
	}

	available, err := list(ctx)
	if err != nil {
		GetLogger().Warn("encoder probe failed, using software encoding", logger.Error(err))
		return BackendSoftware, nil
	}

	for _, candidate := range candidateOrder() {
		profile, ok := ProfileFor(candidate, c, 0, 1)
		if !ok {
			continue
		}
		if hasEncoder(available, profile.Encoder) {
			GetLogger().Info("selected hardware encoder",
				logger.String("backend", candidate.String()),
				logger.String("encoder", profile.Encoder),
				logger.String("cpu", cpuid.CPU.BrandName))
			return candidate, nil
		}
	}
	return BackendSoftware, nil
}

// hasEncoder looks for name as a whole word in ffmpeg's encoder table.
func hasEncoder(table, name string) bool {
	for line := range strings.Lines(table) {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
