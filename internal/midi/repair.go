package midi

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// NeedsRepair reports whether the stored track length of a MIDI file
// disagrees with its size. Unreadable or foreign files are left alone.
func NeedsRepair(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	hdr, size, err := readHeader(f)
	if err != nil {
		return false
	}
	stored := binary.BigEndian.Uint32(hdr[trackLengthOffset:headerSize])
	return int64(stored) != size-headerSize
}

// Repair appends a missing end-of-track event and rewrites the track
// length. It returns an estimate of the number of events in the track.
func Repair(path string) (int, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, repairError(err, path)
	}
	defer f.Close()

	_, size, err := readHeader(f)
	if err != nil {
		return 0, repairError(err, path)
	}

	hasEOT := false
	if size >= headerSize+3 {
		tail := make([]byte, 3)
		if _, err := f.ReadAt(tail, size-3); err != nil {
			return 0, repairError(err, path)
		}
		hasEOT = bytes.Equal(tail, endOfTrack[1:])
	}
	if !hasEOT {
		if _, err := f.WriteAt(endOfTrack, size); err != nil {
			return 0, repairError(err, path)
		}
		size += int64(len(endOfTrack))
	}

	trackLen := uint32(size - headerSize)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], trackLen)
	if _, err := f.WriteAt(length[:], trackLengthOffset); err != nil {
		return 0, repairError(err, path)
	}
	if err := f.Sync(); err != nil {
		return 0, repairError(err, path)
	}

	// a note message with its delta time averages four bytes
	events := max(int(trackLen)-len(endOfTrack), 0) / 4
	GetLogger().Info("repaired MIDI file",
		logger.String("file", path),
		logger.Int("events", events))
	return events, nil
}

func readHeader(f *os.File) ([headerSize]byte, int64, error) {
	var hdr [headerSize]byte
	st, err := f.Stat()
	if err != nil {
		return hdr, 0, err
	}
	if st.Size() < headerSize {
		return hdr, 0, errors.NewStd("file too small to be a MIDI file")
	}
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return hdr, 0, err
	}
	if string(hdr[0:4]) != "MThd" || string(hdr[14:18]) != "MTrk" {
		return hdr, 0, errors.NewStd("not a MIDI file")
	}
	return hdr, st.Size(), nil
}

func repairError(err error, path string) error {
	return errors.New(err).
		Component("midi").
		Category(errors.CategoryFileIO).
		Context("operation", "repair_midi_file").
		Context("file", path).
		Build()
}
