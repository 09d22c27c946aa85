package midi

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// Timing of written files: 480 ticks per quarter note at a fixed 120 BPM.
const (
	TicksPerQuarter         = smf.MetricTicks(480)
	microsPerQuarter uint64 = 500_000

	headerSize        = 22 // MThd chunk plus MTrk chunk header
	trackLengthOffset = 18
	flushInterval     = 100 * time.Millisecond
	maxVLQ            = 0x0FFFFFFF
)

var endOfTrack = []byte{0x00, 0xFF, 0x2F, 0x00}

// TicksFor converts a timeline offset into ticks.
func TicksFor(offset time.Duration) uint64 {
	if offset <= 0 {
		return 0
	}
	return uint64(offset.Microseconds()) * uint64(TicksPerQuarter) / microsPerQuarter
}

// Writer streams events of one device into a format 0 Standard MIDI File.
// The track length stays a placeholder until Finish patches it, so a file
// cut short by a crash is detected by NeedsRepair.
type Writer struct {
	file     *os.File
	w        *bufio.Writer
	filename string
	device   string

	lastTick   uint64
	events     int
	trackBytes uint32
	writeErrs  int
	lastFlush  time.Time
	now        func() time.Time
	log        logger.Logger
}

// Create opens a new MIDI file for device inside dir and writes the headers.
func Create(dir, device string) (*Writer, error) {
	filename := session.MIDIFileName(device)
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, errors.New(err).
			Component("midi").
			Category(errors.CategoryFileIO).
			Context("operation", "create_midi_file").
			Context("device", device).
			Build()
	}

	w := &Writer{
		file:     f,
		w:        bufio.NewWriter(f),
		filename: filename,
		device:   device,
		now:      time.Now,
		log:      GetLogger(),
	}
	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, errors.New(err).
			Component("midi").
			Category(errors.CategoryFileIO).
			Context("operation", "write_midi_header").
			Build()
	}
	w.lastFlush = w.now()
	w.log.Debug("MIDI stream started",
		logger.String("device", device),
		logger.String("file", filename))
	return w, nil
}

func (w *Writer) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[0:4], "MThd")
	binary.BigEndian.PutUint32(hdr[4:8], 6)
	binary.BigEndian.PutUint16(hdr[8:10], 0)  // format 0
	binary.BigEndian.PutUint16(hdr[10:12], 1) // one track
	binary.BigEndian.PutUint16(hdr[12:14], uint16(TicksPerQuarter))
	copy(hdr[14:18], "MTrk")
	// hdr[18:22] is the length placeholder
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	return w.w.Flush()
}

// Filename returns the file name relative to the session directory.
func (w *Writer) Filename() string { return w.filename }

// Events returns the number of events written so far.
func (w *Writer) Events() int { return w.events }

// WriteEvent appends one event. Write failures are counted and reported
// once; the recording carries on with the remaining streams.
func (w *Writer) WriteEvent(ev preroll.TimedMIDIEvent) {
	if len(ev.Data) == 0 || isRealtime(ev.Data) {
		return
	}

	tick := TicksFor(ev.Offset)
	var delta uint64
	if tick > w.lastTick {
		delta = tick - w.lastTick
		w.lastTick = tick
	}

	buf := appendVLQ(nil, delta)
	if ev.Data[0] == 0xF0 {
		// sysex carries its length after the status byte
		buf = append(buf, 0xF0)
		buf = appendVLQ(buf, uint64(len(ev.Data)-1))
		buf = append(buf, ev.Data[1:]...)
	} else {
		buf = append(buf, ev.Data...)
	}

	if _, err := w.w.Write(buf); err != nil {
		w.writeErrs++
		if w.writeErrs == 1 {
			w.log.Warn("MIDI write failed",
				logger.String("device", w.device),
				logger.Error(err))
		}
		return
	}
	w.trackBytes += uint32(len(buf))
	w.events++

	if now := w.now(); now.Sub(w.lastFlush) >= flushInterval {
		_ = w.w.Flush()
		w.lastFlush = now
	}
}

// Finish writes the end-of-track event, patches the track length and
// closes the file.
func (w *Writer) Finish() (session.MIDIFile, error) {
	info := session.MIDIFile{Filename: w.filename, Device: w.device, EventCount: w.events}

	err := w.finish()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		info.NeedsRepair = true
		return info, errors.New(err).
			Component("midi").
			Category(errors.CategoryFileIO).
			Context("operation", "finish_midi_file").
			Context("device", w.device).
			Build()
	}

	if w.writeErrs > 0 {
		w.log.Warn("MIDI stream had write errors",
			logger.String("device", w.device),
			logger.Int("errors", w.writeErrs))
	}
	w.log.Info("MIDI stream finished",
		logger.String("file", w.filename),
		logger.Int("events", w.events))
	return info, nil
}

func (w *Writer) finish() error {
	if _, err := w.w.Write(endOfTrack); err != nil {
		return err
	}
	w.trackBytes += uint32(len(endOfTrack))
	if err := w.w.Flush(); err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], w.trackBytes)
	if _, err := w.file.WriteAt(length[:], trackLengthOffset); err != nil {
		return err
	}
	return w.file.Sync()
}

// appendVLQ appends v as a MIDI variable-length quantity.
func appendVLQ(dst []byte, v uint64) []byte {
	if v > maxVLQ {
		v = maxVLQ
	}
	var tmp [4]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7F)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
	}
	return append(dst, tmp[i:]...)
}
