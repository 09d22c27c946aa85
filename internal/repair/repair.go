// Package repair finalizes session files left behind by an interrupted
// recording: MIDI files with an unpatched track length and audio files
// whose headers were never rewritten.
package repair

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/midi"
)

// GetLogger returns the repair package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("repair")
}

// Result describes one checked file.
type Result struct {
	File     string `json:"file"`
	Kind     string `json:"kind"` // midi or audio
	Repaired bool   `json:"repaired"`
	Error    string `json:"error,omitempty"`
}

// Report lists the outcome for every session file in a directory.
type Report struct {
	Dir     string   `json:"dir"`
	Results []Result `json:"results"`
}

// Repaired returns how many files were rewritten.
func (r *Report) Repaired() int {
	n := 0
	for _, res := range r.Results {
		if res.Repaired {
			n++
		}
	}
	return n
}

// Failed returns how many files could not be repaired.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

const maxParallelChecks = 4

func kindOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mid", ".midi":
		return "midi"
	case ".wav", ".flac":
		return "audio"
	default:
		return ""
	}
}

// Session checks every MIDI and audio file in dir and repairs the ones that
// were not finalized. Failures of single files are recorded in the report.
func Session(dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("repair").
			Category(errors.CategoryFileIO).
			Context("operation", "read_session_dir").
			Context("dir", dir).
			Build()
	}

	log := GetLogger().With(logger.String("dir", dir))
	var files []string
	for _, e := range entries {
		if !e.IsDir() && kindOf(e.Name()) != "" {
			files = append(files, e.Name())
		}
	}

	// results are indexed by file so the report keeps directory order
	report := &Report{Dir: dir, Results: make([]Result, len(files))}
	var g errgroup.Group
	g.SetLimit(maxParallelChecks)
	for i, name := range files {
		g.Go(func() error {
			report.Results[i] = check(dir, name)
			if res := report.Results[i]; res.Error != "" {
				log.Warn("file repair failed", logger.String("file", name), logger.String("error", res.Error))
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("session repair finished",
		logger.Int("checked", len(report.Results)),
		logger.Int("repaired", report.Repaired()),
		logger.Int("failed", report.Failed()))
	return report, nil
}

func check(dir, name string) Result {
	path := filepath.Join(dir, name)
	res := Result{File: name, Kind: kindOf(name)}

	var err error
	switch res.Kind {
	case "midi":
		if midi.NeedsRepair(path) {
			_, err = midi.Repair(path)
			res.Repaired = err == nil
		}
	case "audio":
		if audiofile.NeedsRepair(path) {
			_, err = audiofile.Repair(path)
			res.Repaired = err == nil
		}
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
