package recording

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/audio"
	"github.com/tphakala/preroll-recorder/internal/audiofile"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/events"
	"github.com/tphakala/preroll-recorder/internal/preroll"
	"github.com/tphakala/preroll-recorder/internal/session"
	"github.com/tphakala/preroll-recorder/internal/video"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMIDIInput struct {
	devices []string
	closed  atomic.Bool
}

func (f *fakeMIDIInput) Devices() []string { return f.devices }
func (f *fakeMIDIInput) Close()            { f.closed.Store(true) }

type idleSource struct{ cfg audio.DeviceConfig }

func (s idleSource) Config() audio.DeviceConfig { return s.cfg }

func (s idleSource) Run(ctx context.Context, _ func(preroll.AudioBlock)) error {
	<-ctx.Done()
	return nil
}

type fakeVideo struct {
	mu        sync.Mutex
	preroll   time.Duration
	recording bool
	dir       string
	opens     int
	window    time.Duration
}

func (v *fakeVideo) Open(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opens++
	return nil
}

func (v *fakeVideo) Close()          {}
func (v *fakeVideo) Count() int      { return 1 }
func (v *fakeVideo) Names() []string { return []string{"Cam"} }

func (v *fakeVideo) SetPrerollWindow(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window = d
}

func (v *fakeVideo) StartRecording(_ context.Context, dir string) (time.Duration, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recording = true
	v.dir = dir
	return v.preroll, nil
}

func (v *fakeVideo) StopRecording(context.Context) []video.FileInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.recording {
		return nil
	}
	v.recording = false
	name := session.VideoFileName("Cam", "webm")
	_ = os.WriteFile(filepath.Join(v.dir, name), []byte("video"), 0o644)
	return []video.FileInfo{{Filename: name, Device: "Cam", DurationSecs: 0.5, SizeBytes: 5, FramesWritten: 15}}
}

type fakeIndex struct {
	mu    sync.Mutex
	saved []*session.Metadata
}

func (f *fakeIndex) SaveSession(_ context.Context, m *session.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, m)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RecordingEvent
}

func (f *fakePublisher) Publish(e events.RecordingEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return true
}

func (f *fakePublisher) kinds() []events.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []events.Kind
	for _, e := range f.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fakeDisk struct{ checks atomic.Int32 }

func (f *fakeDisk) Check(string) bool {
	f.checks.Add(1)
	return false
}

type rig struct {
	c         *Coordinator
	clock     *testClock
	midi      *fakeMIDIInput
	index     *fakeIndex
	publisher *fakePublisher
	disk      *fakeDisk
	storage   string
}

func newRig(t *testing.T, cfg Config, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		clock:     &testClock{now: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)},
		midi:      &fakeMIDIInput{},
		index:     &fakeIndex{},
		publisher: &fakePublisher{},
		disk:      &fakeDisk{},
		storage:   t.TempDir(),
	}
	cfg.StoragePath = r.storage
	if cfg.PreRoll == 0 {
		cfg.PreRoll = 2 * time.Second
	}
	if cfg.Format == (audiofile.Format{}) {
		cfg.Format = audiofile.Format{Container: audiofile.WAV, Depth: audiofile.Depth16}
	}
	r.midi.devices = append(append([]string{}, cfg.TriggerMIDI...), cfg.RecordMIDI...)

	base := []Option{
		WithClock(r.clock.Now),
		WithMIDIOpener(func([]string, func(preroll.MIDIEvent)) (MIDIInput, error) { return r.midi, nil }),
		WithAudioSourceFactory(func(cfg audio.DeviceConfig) audio.Source { return idleSource{cfg} }),
		WithSessionIndex(r.index),
		WithPublisher(r.publisher),
		WithSpaceChecker(r.disk),
	}
	r.c = New(cfg, append(base, opts...)...)
	t.Cleanup(func() { r.c.Close(context.Background()) })
	return r
}

func (r *rig) pushAudio(frames int, v float32) {
	r.c.HandleAudio(0, preroll.AudioBlock{Samples: stereoBlock(frames, v), CapturedAt: r.clock.Now()})
}

func (r *rig) note(device string, on bool) {
	status := byte(0x80)
	if on {
		status = 0x90
	}
	r.c.HandleMIDI(preroll.MIDIEvent{Device: device, Data: []byte{status, 60, 100}, CapturedAt: r.clock.Now()})
}

var stereoIn = []audio.DeviceConfig{{Name: "Interface In", SampleRate: 48000, Channels: 2}}

func TestManualStartStop(t *testing.T) {
	r := newRig(t, Config{RecordMIDI: []string{"Pads"}, Audio: stereoIn})
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))

	for range 3 {
		r.pushAudio(1000, 0.05)
	}
	r.note("Pads", true)
	r.note("Pads", false)

	require.NoError(t, r.c.ManualStart(ctx))
	assert.True(t, r.c.IsRecording())
	require.ErrorIs(t, r.c.ManualStart(ctx), errors.ErrAlreadyRecording)

	st := r.c.Status()
	assert.Equal(t, StateRecording, st.State)
	assert.NotEmpty(t, st.SessionPath)
	assert.Equal(t, []string{"Interface In"}, st.AudioDevices)
	assert.Equal(t, []string{"Pads"}, st.MIDIDevices)
	assert.FileExists(t, filepath.Join(st.SessionPath, session.MetadataFile))
	_, active := r.c.LastActivity()
	assert.False(t, active, "manual start clears trigger activity")

	r.pushAudio(1000, 0.05)
	r.note("Pads", true)

	meta, err := r.c.ManualStop(ctx)
	require.NoError(t, err)
	assert.False(t, r.c.IsRecording())
	assert.Equal(t, StateIdle, r.c.Status().State)

	require.Len(t, meta.AudioFiles, 1)
	assert.Equal(t, "recording.wav", meta.AudioFiles[0].Filename)
	assert.InDelta(t, 4000.0/48000, meta.AudioFiles[0].DurationSecs, 1e-9)
	require.Len(t, meta.MIDIFiles, 1)
	assert.Equal(t, "midi_Pads.mid", meta.MIDIFiles[0].Filename)
	assert.Equal(t, 3, meta.MIDIFiles[0].EventCount)
	assert.InDelta(t, 4000.0/48000, meta.DurationSecs, 1e-9)

	loaded, err := session.Load(meta.Path)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, loaded.ID)
	assert.Len(t, loaded.AudioFiles, 1)

	require.Len(t, r.index.saved, 1)
	assert.Equal(t, meta.ID, r.index.saved[0].ID)
	assert.Equal(t, []events.Kind{events.RecordingStarted, events.RecordingStopped}, r.publisher.kinds())
	assert.Equal(t, int32(1), r.disk.checks.Load())

	_, err = r.c.ManualStop(ctx)
	require.ErrorIs(t, err, errors.ErrNotRecording)
}

func TestStopPadsShortAudio(t *testing.T) {
	r := newRig(t, Config{Audio: stereoIn})
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))
	r.pushAudio(1000, 0.05)

	require.NoError(t, r.c.ManualStart(ctx))
	r.clock.Advance(time.Second)
	meta, err := r.c.ManualStop(ctx)
	require.NoError(t, err)

	require.Len(t, meta.AudioFiles, 1)
	assert.InDelta(t, 1.0, meta.AudioFiles[0].DurationSecs, 1e-3)
	assert.InDelta(t, 1.0, meta.DurationSecs, 1e-3)
}

func TestStopWithinToleranceDoesNotPad(t *testing.T) {
	r := newRig(t, Config{Audio: stereoIn, PadTolerance: 200 * time.Millisecond})
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))
	r.pushAudio(4800, 0.05) // 100 ms

	require.NoError(t, r.c.ManualStart(ctx))
	r.clock.Advance(250 * time.Millisecond)
	meta, err := r.c.ManualStop(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 0.1, meta.AudioFiles[0].DurationSecs, 1e-9)
	assert.InDelta(t, 0.25, meta.DurationSecs, 1e-9)
}

func TestManualStartWithoutDevices(t *testing.T) {
	r := newRig(t, Config{})
	require.ErrorIs(t, r.c.Start(t.Context()), errors.ErrNoDevices)
	require.ErrorIs(t, r.c.ManualStart(t.Context()), errors.ErrNoDevices)
	assert.False(t, r.c.IsRecording())
}

func TestMIDITriggerStartsSession(t *testing.T) {
	r := newRig(t, Config{TriggerMIDI: []string{"Keys"}, RecordMIDI: []string{"Pads"}, Audio: stereoIn})
	require.NoError(t, r.c.Start(t.Context()))
	assert.True(t, r.c.TriggerArmed())

	// note-off and zero velocity note-on do not trigger
	r.note("Keys", false)
	r.c.HandleMIDI(preroll.MIDIEvent{Device: "Keys", Data: []byte{0x90, 60, 0}, CapturedAt: r.clock.Now()})
	assert.False(t, r.c.state.Starting())
	assert.False(t, r.c.IsRecording())

	r.note("Keys", true)
	require.Eventually(t, r.c.IsRecording, time.Second, time.Millisecond)
	last, ok := r.c.LastActivity()
	require.True(t, ok)
	assert.Equal(t, r.clock.Now(), last)
	assert.False(t, r.c.HandleTrigger("midi"), "already recording")

	meta, err := r.c.ManualStop(t.Context())
	require.NoError(t, err)
	require.Len(t, meta.MIDIFiles, 1, "only record devices are written")
	assert.Equal(t, "midi_Pads.mid", meta.MIDIFiles[0].Filename)
}

func TestConcurrentTriggersStartOnce(t *testing.T) {
	r := newRig(t, Config{TriggerMIDI: []string{"Keys"}})
	require.NoError(t, r.c.Start(t.Context()))

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			if r.c.HandleTrigger("midi") {
				started.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())
	require.Eventually(t, r.c.IsRecording, time.Second, time.Millisecond)

	_, err := r.c.ManualStop(t.Context())
	require.NoError(t, err)
	entries, err := os.ReadDir(r.storage)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTriggerIgnoredWhileInitializing(t *testing.T) {
	r := newRig(t, Config{TriggerMIDI: []string{"Keys"}})
	require.NoError(t, r.c.Start(t.Context()))

	r.c.setState(StateInitializing)
	assert.False(t, r.c.HandleTrigger("midi"))
	require.ErrorIs(t, r.c.ManualStart(t.Context()), errors.ErrBusy)
	r.c.setState(StateIdle)
	assert.False(t, r.c.IsRecording())
}

func TestAudioLevelTrigger(t *testing.T) {
	r := newRig(t, Config{Audio: stereoIn, AudioTrigger: []string{"Interface In"}, AudioThreshold: 0.2})
	require.NoError(t, r.c.Start(t.Context()))
	assert.True(t, r.c.TriggerArmed())

	r.pushAudio(2400, 0.1) // one quiet 50 ms window
	assert.False(t, r.c.IsRecording())
	levels := r.c.Levels()
	require.Len(t, levels, 1)
	assert.Equal(t, "Interface In", levels[0].Device)
	assert.InDelta(t, 0.1, levels[0].RMS, 1e-6)

	r.pushAudio(2400, 0.5)
	require.Eventually(t, r.c.IsRecording, time.Second, time.Millisecond)
	_, ok := r.c.LastActivity()
	assert.True(t, ok)
}

func TestRecordOnlyNotesRefreshActivity(t *testing.T) {
	r := newRig(t, Config{RecordMIDI: []string{"Pads"}})
	require.NoError(t, r.c.Start(t.Context()))
	assert.False(t, r.c.TriggerArmed())

	r.c.HandleMIDI(preroll.MIDIEvent{Device: "Pads", Data: []byte{0xB0, 7, 100}, CapturedAt: r.clock.Now()})
	_, ok := r.c.LastActivity()
	assert.False(t, ok, "control changes are not note activity")

	r.note("Pads", false)
	_, ok = r.c.LastActivity()
	assert.True(t, ok)
	assert.False(t, r.c.IsRecording(), "record devices never trigger")
}

func TestVideoPrerollAndCombine(t *testing.T) {
	v := &fakeVideo{preroll: 500 * time.Millisecond}
	var muxed atomic.Int32
	mux := func(_ context.Context, videoPath, audioPath, outPath string) error {
		muxed.Add(1)
		if _, err := os.Stat(videoPath); err != nil {
			return err
		}
		if _, err := os.Stat(audioPath); err != nil {
			return err
		}
		return os.WriteFile(outPath, []byte("combined"), 0o644)
	}
	r := newRig(t, Config{Audio: stereoIn, CombineAudioVideo: true}, WithVideo(v), WithMuxer(mux))
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))
	assert.Equal(t, 2*time.Second, v.window)
	assert.Equal(t, 1, v.opens)

	r.pushAudio(48000, 0.05) // one second buffered, video pre-roll wins
	require.NoError(t, r.c.ManualStart(ctx))
	assert.Equal(t, []string{"Cam"}, r.c.Status().VideoDevices)

	meta, err := r.c.ManualStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), muxed.Load())

	require.Len(t, meta.VideoFiles, 1)
	assert.Equal(t, "video_Cam.mkv", meta.VideoFiles[0].Filename)
	assert.True(t, meta.VideoFiles[0].HasAudio)
	assert.Equal(t, int64(len("combined")), meta.VideoFiles[0].SizeBytes)
	assert.Empty(t, meta.AudioFiles)
	assert.InDelta(t, 0.5, meta.DurationSecs, 1e-9)

	assert.NoFileExists(t, filepath.Join(meta.Path, "video_Cam.webm"))
	assert.NoFileExists(t, filepath.Join(meta.Path, "recording.wav"))
	assert.FileExists(t, filepath.Join(meta.Path, "video_Cam.mkv"))
	assert.True(t, meta.Summary().HasAudio)
}

func TestCombineFailureKeepsSeparateFiles(t *testing.T) {
	v := &fakeVideo{}
	mux := func(context.Context, string, string, string) error { return errors.NewStd("ffmpeg missing") }
	r := newRig(t, Config{Audio: stereoIn, CombineAudioVideo: true}, WithVideo(v), WithMuxer(mux))
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))

	require.NoError(t, r.c.ManualStart(ctx))
	meta, err := r.c.ManualStop(ctx)
	require.NoError(t, err)

	require.Len(t, meta.AudioFiles, 1)
	require.Len(t, meta.VideoFiles, 1)
	assert.False(t, meta.VideoFiles[0].HasAudio)
	assert.FileExists(t, filepath.Join(meta.Path, "video_Cam.webm"))
}

func TestRestartsRefusedWhileRecording(t *testing.T) {
	v := &fakeVideo{}
	r := newRig(t, Config{RecordMIDI: []string{"Pads"}, Audio: stereoIn}, WithVideo(v))
	ctx := t.Context()
	require.NoError(t, r.c.Start(ctx))

	require.NoError(t, r.c.RestartMIDI())
	assert.True(t, r.midi.closed.Load())
	require.NoError(t, r.c.RestartAudio())
	require.NoError(t, r.c.RestartVideo(ctx))
	assert.Equal(t, 2, v.opens)
	assert.Equal(t, StateIdle, r.c.Status().State)

	require.NoError(t, r.c.ManualStart(ctx))
	require.ErrorIs(t, r.c.RestartMIDI(), errors.ErrAlreadyRecording)
	require.ErrorIs(t, r.c.RestartAudio(), errors.ErrAlreadyRecording)
	require.ErrorIs(t, r.c.RestartVideo(ctx), errors.ErrAlreadyRecording)
}

func TestCloseFinalizesRunningSession(t *testing.T) {
	r := newRig(t, Config{Audio: stereoIn})
	require.NoError(t, r.c.Start(t.Context()))
	require.NoError(t, r.c.ManualStart(t.Context()))

	r.c.Close(context.Background())
	assert.False(t, r.c.IsRecording())
	require.Len(t, r.index.saved, 1)
	assert.False(t, r.c.HandleTrigger("midi"), "closed coordinators ignore triggers")
}
