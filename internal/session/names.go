package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DirLayout is the time format of session directory names.
const DirLayout = "2006-01-02_15-04-05"

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", `\`, "_", ":", "_")

// SanitizeDeviceName makes a device name safe for use in a file name.
func SanitizeDeviceName(name string) string {
	return nameReplacer.Replace(name)
}

// DirFor returns the session directory for a recording started at t.
func DirFor(storage string, t time.Time) string {
	return filepath.Join(storage, t.UTC().Format(DirLayout))
}

// MIDIFileName returns the MIDI file name for a device.
func MIDIFileName(device string) string {
	return "midi_" + SanitizeDeviceName(device) + ".mid"
}

// VideoFileName returns the video file name for a device and container
// extension.
func VideoFileName(device, ext string) string {
	return "video_" + SanitizeDeviceName(device) + "." + ext
}

// AudioFileName returns the audio file name of device index of total. A
// single device records to recording.<ext>, several devices are numbered
// from 1.
func AudioFileName(index, total int, ext string) string {
	if total <= 1 {
		return "recording." + ext
	}
	return fmt.Sprintf("recording_%d.%s", index+1, ext)
}
