package diskguard

import (
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		free uint64
		low  bool
	}{
		{"plenty", 50 * 1024 * bytesPerMB, false},
		{"exactly minimum", DefaultMinFreeMB * bytesPerMB, false},
		{"below minimum", 900 * bytesPerMB, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New(0)
			g.usage = func(string) (*disk.UsageStat, error) { return &disk.UsageStat{Free: tt.free}, nil }
			assert.Equal(t, tt.low, g.Check(t.TempDir()))
		})
	}
}

func TestCheckUsageError(t *testing.T) {
	t.Parallel()
	g := New(10)
	g.usage = func(string) (*disk.UsageStat, error) { return nil, errors.NewStd("statfs failed") }
	assert.False(t, g.Check(t.TempDir()))

	_, err := g.Free(t.TempDir())
	assert.True(t, errors.IsCategory(err, errors.CategorySystem))
}

func TestFreeResolvesMissingDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var seen string
	g := New(1)
	g.usage = func(p string) (*disk.UsageStat, error) {
		seen = p
		return &disk.UsageStat{Free: 42}, nil
	}

	free, err := g.Free(filepath.Join(root, "sessions", "2026-01-01_00-00-00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), free)
	assert.Equal(t, root, seen)
}

func TestFreeOnRealVolume(t *testing.T) {
	t.Parallel()
	free, err := New(0).Free(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, free)
}
