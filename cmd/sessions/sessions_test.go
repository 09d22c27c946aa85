package sessions

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/session"
)

func TestPrintSessions(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, []session.Summary{{
		ID:           "6f1c",
		Timestamp:    time.Date(2026, 10, 17, 20, 15, 3, 0, time.UTC),
		DurationSecs: 42.53,
		HasMIDI:      true,
		HasAudio:     true,
		IsFavorite:   true,
		Notes:        "bridge idea",
	}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "6f1c")
	assert.Contains(t, lines[1], "42.5s")
	assert.Contains(t, lines[1], "midi,audio")
	assert.Contains(t, lines[1], "bridge idea")
}

func TestPrintNoSessions(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, nil))
	assert.Equal(t, "no sessions\n", buf.String())
}

func TestStreams(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "-", streams(session.Summary{}))
	assert.Equal(t, "video", streams(session.Summary{HasVideo: true}))
}
