package audio

import (
	"math"
	"time"
)

// Level meter timing.
const (
	LevelWindow = 50 * time.Millisecond
	PeakHold    = 3 * time.Second
)

// DefaultThreshold is the RMS level that fires the audio trigger.
const DefaultThreshold = 0.1

type rmsPoint struct {
	at  time.Time
	rms float32
}

// LevelMeter computes RMS over fixed windows and holds the recent peak.
// It is not safe for concurrent use.
type LevelMeter struct {
	threshold float64
	perWindow int
	sumSq     float64
	count     int
	recent    []rmsPoint
	rms       float32
	peak      float32
	now       func() time.Time
}

// NewLevelMeter creates a meter for an interleaved stream.
func NewLevelMeter(threshold float64, sampleRate, channels int) *LevelMeter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	perWindow := sampleRate * channels * int(LevelWindow/time.Millisecond) / 1000
	return &LevelMeter{
		threshold: threshold,
		perWindow: max(perWindow, 1),
		now:       time.Now,
	}
}

// Process consumes samples and reports whether any completed window
// exceeded the threshold.
func (m *LevelMeter) Process(samples []float32) bool {
	triggered := false
	for _, s := range samples {
		m.sumSq += float64(s) * float64(s)
		m.count++
		if m.count < m.perWindow {
			continue
		}

		rms := float32(math.Sqrt(m.sumSq / float64(m.count)))
		m.sumSq, m.count = 0, 0
		m.record(rms)
		if float64(rms) > m.threshold {
			triggered = true
		}
	}
	return triggered
}

func (m *LevelMeter) record(rms float32) {
	now := m.now()
	m.recent = append(m.recent, rmsPoint{at: now, rms: rms})
	drop := 0
	for drop < len(m.recent) && now.Sub(m.recent[drop].at) > PeakHold {
		drop++
	}
	if drop > 0 {
		m.recent = append(m.recent[:0], m.recent[drop:]...)
	}

	m.rms = rms
	m.peak = 0
	for _, p := range m.recent {
		m.peak = max(m.peak, p.rms)
	}
}

// Levels returns the latest window RMS and the held peak.
func (m *LevelMeter) Levels() (rms, peak float32) {
	return m.rms, m.peak
}
