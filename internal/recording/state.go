package recording

import (
	"sync"
	"time"

	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// AudioLayout describes one audio input routed through CaptureState.
type AudioLayout struct {
	Device     string
	SampleRate int
	Channels   int
}

// CaptureState routes incoming MIDI and audio either into the pre-roll
// buffers or into the running session. All fields are guarded by one mutex
// and no file I/O happens while it is held: recorded data accumulates in
// memory until the flusher or stopRecording takes it.
type CaptureState struct {
	mu sync.Mutex

	recording    bool
	starting     bool
	sessionStart time.Time
	midiOffset   time.Duration

	window       time.Duration
	layouts      []AudioLayout
	midiPreroll  *preroll.MIDIBuffer
	audioPreroll []*preroll.AudioBuffer

	midiRecorded  []preroll.TimedMIDIEvent
	audioRecorded [][]float32
}

// NewCaptureState creates idle state with empty pre-roll buffers.
func NewCaptureState(window time.Duration, layouts []AudioLayout) *CaptureState {
	s := &CaptureState{
		window:      window,
		midiPreroll: preroll.NewMIDIBuffer(window),
	}
	s.setLayoutsLocked(layouts)
	return s
}

func (s *CaptureState) setLayoutsLocked(layouts []AudioLayout) {
	s.layouts = append([]AudioLayout(nil), layouts...)
	s.audioPreroll = make([]*preroll.AudioBuffer, len(layouts))
	for i, l := range layouts {
		s.audioPreroll[i] = preroll.NewAudioBuffer(l.SampleRate, l.Channels, s.window)
	}
	s.audioRecorded = make([][]float32, len(layouts))
}

// SetAudioLayouts replaces the audio inputs. It is refused while a session
// is starting or running.
func (s *CaptureState) SetAudioLayouts(layouts []AudioLayout) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording || s.starting {
		return false
	}
	s.setLayoutsLocked(layouts)
	return true
}

// AudioLayouts returns the current audio inputs.
func (s *CaptureState) AudioLayouts() []AudioLayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AudioLayout(nil), s.layouts...)
}

// SetWindow changes the pre-roll window of every buffer.
func (s *CaptureState) SetWindow(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = window
	s.midiPreroll.SetWindow(window)
	for _, b := range s.audioPreroll {
		b.SetWindow(window)
	}
}

// usePrerollLocked is the routing predicate: data goes to the pre-roll
// buffers until the session is fully started.
func (s *CaptureState) usePrerollLocked() bool {
	return !s.recording || s.starting
}

// UsePreroll reports whether incoming data is currently buffered.
func (s *CaptureState) UsePreroll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usePrerollLocked()
}

// PushMIDI routes one event from a recorded device.
func (s *CaptureState) PushMIDI(ev preroll.MIDIEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usePrerollLocked() {
		s.midiPreroll.Push(ev)
		return
	}
	offset := ev.CapturedAt.Sub(s.sessionStart) + s.midiOffset
	s.midiRecorded = append(s.midiRecorded, preroll.TimedMIDIEvent{
		Device: ev.Device,
		Data:   ev.Data,
		Offset: max(offset, 0),
	})
}

// PushAudio routes one block of audio input index. Unknown indexes are
// ignored, which covers blocks still in flight across an audio restart.
func (s *CaptureState) PushAudio(index int, block preroll.AudioBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.audioPreroll) {
		return
	}
	if s.usePrerollLocked() {
		s.audioPreroll[index].Push(block.Samples, block.CapturedAt)
		return
	}
	s.audioRecorded[index] = append(s.audioRecorded[index], block.Samples...)
}

// Begin atomically claims the right to start a session. It returns false
// when a session is already starting or running.
func (s *CaptureState) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording || s.starting {
		return false
	}
	s.starting = true
	return true
}

// Abort releases a claim taken by Begin after a failed start.
func (s *CaptureState) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
}

// Starting reports whether a start is in progress.
func (s *CaptureState) Starting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starting
}

// IsRecording reports whether a session is running.
func (s *CaptureState) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Activation is the pre-roll handed to a session when it starts.
type Activation struct {
	Sync  *time.Duration
	MIDI  []preroll.TimedMIDIEvent
	Audio [][]float32
}

// audioAvailableLocked is the longest buffered audio, capped at the window.
// Empty buffers count as no audio pre-roll.
func (s *CaptureState) audioAvailableLocked() *time.Duration {
	var longest time.Duration
	for _, b := range s.audioPreroll {
		longest = max(longest, b.Duration())
	}
	longest = min(longest, s.window)
	if longest <= 0 {
		return nil
	}
	return &longest
}

// Activate drains the pre-roll onto a timeline ending at trigger and flips
// the state to recording. video and delay feed SyncPreroll.
func (s *CaptureState) Activate(trigger time.Time, video *time.Duration, delay time.Duration) Activation {
	s.mu.Lock()
	defer s.mu.Unlock()

	shared := SyncPreroll(s.audioAvailableLocked(), video, delay)
	act := Activation{
		Sync:  shared,
		MIDI:  s.midiPreroll.DrainSynced(trigger, shared),
		Audio: make([][]float32, len(s.audioPreroll)),
	}
	for i, b := range s.audioPreroll {
		if shared != nil {
			act.Audio[i] = b.DrainDuration(*shared)
		} else {
			act.Audio[i] = b.Drain()
		}
		s.audioRecorded[i] = nil
	}
	s.midiRecorded = nil

	s.sessionStart = trigger
	if shared != nil {
		s.midiOffset = *shared
	} else {
		s.midiOffset = 0
	}
	s.recording = true
	s.starting = false
	return act
}

// Take removes the data recorded since the previous call.
func (s *CaptureState) Take() ([]preroll.TimedMIDIEvent, [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked()
}

func (s *CaptureState) takeLocked() ([]preroll.TimedMIDIEvent, [][]float32) {
	midi := s.midiRecorded
	s.midiRecorded = nil
	audio := make([][]float32, len(s.audioRecorded))
	for i := range s.audioRecorded {
		audio[i] = s.audioRecorded[i]
		s.audioRecorded[i] = nil
	}
	return midi, audio
}

// Ending is what remains of a session when it stops.
type Ending struct {
	Elapsed time.Duration
	MIDI    []preroll.TimedMIDIEvent
	Audio   [][]float32
}

// End stops routing into the session and returns its unflushed data. It
// reports false when no session is running.
func (s *CaptureState) End(now time.Time) (Ending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return Ending{}, false
	}
	midi, audio := s.takeLocked()
	end := Ending{
		Elapsed: now.Sub(s.sessionStart),
		MIDI:    midi,
		Audio:   audio,
	}
	s.recording = false
	s.starting = false
	s.midiOffset = 0
	return end, true
}
