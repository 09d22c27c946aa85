package audiofile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

const (
	wavHeaderMin = 44

	flacStreamInfoOffset = 8 // "fLaC" plus metadata block header
	flacTotalOffset      = flacStreamInfoOffset + 13
	flacHeaderMin        = flacStreamInfoOffset + 34
)

// NeedsRepair reports whether an audio file was left unfinalized: a WAV whose
// RIFF size disagrees with the file size, or a FLAC whose stream info has no
// sample count. Files that cannot be read are left alone.
func NeedsRepair(path string) bool {
	if containerOf(path) == FLAC {
		return flacNeedsRepair(path)
	}
	return wavNeedsRepair(path)
}

// Repair rewrites the header fields of an unfinalized file and probes it.
func Repair(path string) (Info, error) {
	var err error
	if containerOf(path) == FLAC {
		err = repairFLAC(path)
	} else {
		err = repairWAV(path)
	}
	if err != nil {
		return Info{}, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("operation", "repair_audio_file").
			Context("file", path).
			Build()
	}

	info, err := Probe(path)
	if err != nil {
		return Info{}, err
	}
	GetLogger().Info("repaired audio file",
		logger.String("file", path),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.Channels),
		logger.Duration("duration", info.Duration))
	return info, nil
}

func wavNeedsRepair(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() < wavHeaderMin {
		return false
	}
	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return false
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return false
	}
	return int64(binary.LittleEndian.Uint32(hdr[4:8])) != st.Size()-8
}

// repairWAV walks the chunk list to the data chunk and patches both sizes
// from the file length.
func repairWAV(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < wavHeaderMin {
		return errors.NewStd("file too small to be a WAV file")
	}

	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return err
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return errors.NewStd("not a WAV file")
	}

	var dataOffset int64
	var sawFmt bool
	pos := int64(12)
	for pos+8 <= size {
		var chunk [8]byte
		if _, err := f.ReadAt(chunk[:], pos); err != nil {
			return err
		}
		id := string(chunk[0:4])
		if id == "data" {
			dataOffset = pos
			break
		}
		if id == "fmt " {
			sawFmt = true
		}
		n := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		pos += 8 + n + n%2
	}
	if dataOffset == 0 || !sawFmt {
		return errors.NewStd("fmt or data chunk missing")
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(size-8))
	if _, err := f.WriteAt(buf[:], 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(size-dataOffset-8))
	if _, err := f.WriteAt(buf[:], dataOffset+4); err != nil {
		return err
	}
	return f.Sync()
}

func flacNeedsRepair(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() < flacHeaderMin {
		return false
	}
	dec, err := flac.NewDecoder(f)
	if err != nil {
		return false
	}
	return dec.TotalSamples == 0
}

// repairFLAC counts the decodable frames and stores the total in the stream
// info block.
func repairFLAC(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := flac.NewDecoder(f)
	if err != nil {
		return err
	}
	frameBytes := dec.BitsPerSample / 8 * dec.NChannels
	if frameBytes <= 0 {
		return errors.NewStd("invalid FLAC stream layout")
	}

	var total uint64
	for {
		pcm, err := dec.Next()
		if err != nil {
			// io.EOF, or a final frame truncated by the crash
			break
		}
		total += uint64(len(pcm) / frameBytes)
	}

	var field [5]byte
	if _, err := f.ReadAt(field[:], flacTotalOffset); err != nil {
		return err
	}
	field[0] = field[0]&0xF0 | byte(total>>32)&0x0F
	binary.BigEndian.PutUint32(field[1:], uint32(total))
	if _, err := f.WriteAt(field[:], flacTotalOffset); err != nil {
		return err
	}
	return f.Sync()
}
