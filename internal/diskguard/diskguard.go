// Package diskguard warns when the recording volume runs low on space.
package diskguard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

const bytesPerMB = 1024 * 1024

// DefaultMinFreeMB is the free space below which a warning is logged.
const DefaultMinFreeMB = 1024

// Guard checks free space on the volume holding a path. It never blocks a
// recording, it only warns.
type Guard struct {
	minFree uint64
	usage   func(path string) (*disk.UsageStat, error)
	log     logger.Logger
}

// New creates a guard warning below minFreeMB. Zero selects DefaultMinFreeMB.
func New(minFreeMB uint64) *Guard {
	if minFreeMB == 0 {
		minFreeMB = DefaultMinFreeMB
	}
	return &Guard{
		minFree: minFreeMB * bytesPerMB,
		usage:   disk.Usage,
		log:     logger.Global().Module("diskguard"),
	}
}

// Free returns the free bytes on the volume holding path. Missing trailing
// directories are resolved to their nearest existing parent.
func (g *Guard) Free(path string) (uint64, error) {
	existing := nearestExisting(path)
	usage, err := g.usage(existing)
	if err != nil {
		return 0, errors.New(err).
			Component("diskguard").
			Category(errors.CategorySystem).
			Context("operation", "disk_usage").
			Context("path", existing).
			Build()
	}
	return usage.Free, nil
}

// Check logs a warning when path has less free space than the minimum. It
// reports whether space is low.
func (g *Guard) Check(path string) bool {
	free, err := g.Free(path)
	if err != nil {
		g.log.Warn("failed to check free disk space", logger.Error(err))
		return false
	}
	if free >= g.minFree {
		g.log.Debug("disk space check passed",
			logger.String("path", path),
			logger.String("free_gb", fmt.Sprintf("%.2f", float64(free)/(1024*bytesPerMB))))
		return false
	}
	g.log.Warn("low disk space on recording volume",
		logger.String("path", path),
		logger.Uint64("free_mb", free/bytesPerMB),
		logger.Uint64("min_free_mb", g.minFree/bytesPerMB))
	return true
}

func nearestExisting(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
