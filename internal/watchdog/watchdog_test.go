package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTarget struct {
	mu        sync.Mutex
	armed     bool
	recording bool
	started   time.Time
	last      time.Time
	stops     int
	stopErr   error
}

func (f *fakeTarget) TriggerArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeTarget) IsRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeTarget) RecordingStartedAt() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.recording
}

func (f *fakeTarget) LastActivity() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, !f.last.IsZero()
}

func (f *fakeTarget) StopIdle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.recording = false
	return f.stopErr
}

func (f *fakeTarget) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func TestCheck(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	timeout := 10 * time.Second

	tests := []struct {
		name   string
		target fakeTarget
		now    time.Time
		stop   bool
	}{
		{
			name:   "idle past timeout",
			target: fakeTarget{armed: true, recording: true, started: t0, last: t0.Add(5 * time.Second)},
			now:    t0.Add(30 * time.Second),
			stop:   true,
		},
		{
			name:   "exactly at timeout",
			target: fakeTarget{armed: true, recording: true, started: t0, last: t0.Add(5 * time.Second)},
			now:    t0.Add(15 * time.Second),
			stop:   true,
		},
		{
			name:   "recent activity",
			target: fakeTarget{armed: true, recording: true, started: t0, last: t0.Add(12 * time.Second)},
			now:    t0.Add(15 * time.Second),
		},
		{
			name:   "grace period after start",
			target: fakeTarget{armed: true, recording: true, started: t0, last: t0.Add(-time.Minute)},
			now:    t0.Add(9 * time.Second),
		},
		{
			name:   "manual session without activity",
			target: fakeTarget{armed: true, recording: true, started: t0},
			now:    t0.Add(time.Hour),
		},
		{
			name:   "not armed",
			target: fakeTarget{recording: true, started: t0, last: t0},
			now:    t0.Add(time.Hour),
		},
		{
			name:   "not recording",
			target: fakeTarget{armed: true, last: t0},
			now:    t0.Add(time.Hour),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := tt.target
			w := New(&target, timeout)
			w.now = func() time.Time { return tt.now }

			assert.Equal(t, tt.stop, w.Check(t.Context()))
			want := 0
			if tt.stop {
				want = 1
			}
			assert.Equal(t, want, target.stopCount())
		})
	}
}

func TestCheckStopErrorIsReported(t *testing.T) {
	t.Parallel()

	t0 := time.Unix(1000, 0)
	target := &fakeTarget{armed: true, recording: true, started: t0, last: t0, stopErr: errors.ErrNotRecording}
	w := New(target, time.Second)
	w.now = func() time.Time { return t0.Add(2 * time.Second) }

	assert.True(t, w.Check(t.Context()))
	assert.Equal(t, 1, target.stopCount())
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{armed: true, recording: true, last: time.Unix(1, 0)}
	w := New(target, 0)
	assert.False(t, w.Check(t.Context()))

	done := make(chan struct{})
	go func() {
		w.Run(t.Context())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled watchdog should return immediately")
	}
}

func TestRunStopsIdleSession(t *testing.T) {
	t.Parallel()

	now := time.Now()
	target := &fakeTarget{
		armed:     true,
		recording: true,
		started:   now.Add(-time.Minute),
		last:      now.Add(-time.Minute),
	}
	w := New(target, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return target.stopCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.False(t, target.IsRecording())
}
