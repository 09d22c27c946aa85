// Package metrics provides Prometheus collectors for the recorder.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Trigger sources.
const (
	SourceMIDI   = "midi"
	SourceAudio  = "audio"
	SourceManual = "manual"
)

// Stop reasons.
const (
	ReasonManual   = "manual"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// Stream kinds used in file error labels.
const (
	StreamMIDI  = "midi"
	StreamAudio = "audio"
	StreamVideo = "video"
)

// RecorderMetrics contains all Prometheus metrics of the recording
// lifecycle. A nil *RecorderMetrics records nothing.
type RecorderMetrics struct {
	Triggers        *prometheus.CounterVec
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	Recording       prometheus.Gauge
	SessionDuration prometheus.Histogram
	PrerollSync     prometheus.Histogram
	AudioPadding    prometheus.Histogram
	FileErrors      *prometheus.CounterVec
}

// NewRecorderMetrics creates and registers the recorder metrics.
func NewRecorderMetrics(registry prometheus.Registerer) (*RecorderMetrics, error) {
	m := &RecorderMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register recorder metrics: %w", err)
	}
	return m, nil
}

func (m *RecorderMetrics) initMetrics() {
	m.Triggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_triggers_total",
		Help: "Triggers that started a session, by source",
	}, []string{"source"})

	m.SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_sessions_started_total",
		Help: "Total number of sessions started",
	})

	m.SessionsStopped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sessions_stopped_total",
		Help: "Total number of sessions stopped, by reason",
	}, []string{"reason"})

	m.Recording = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_recording",
		Help: "1 while a session is recording",
	})

	m.SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_session_duration_seconds",
		Help:    "Duration of finished sessions",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	m.PrerollSync = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_preroll_sync_seconds",
		Help:    "Pre-roll window shared by all streams at session start",
		Buckets: prometheus.LinearBuckets(0.25, 0.25, 20),
	})

	m.AudioPadding = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_audio_padding_seconds",
		Help:    "Silence appended to audio files to match the session length",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.FileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_file_errors_total",
		Help: "Errors creating, writing or finalizing session files, by stream",
	}, []string{"stream"})
}

// TriggerFired counts a trigger that started a session.
func (m *RecorderMetrics) TriggerFired(source string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(source).Inc()
}

// SessionStarted records a started session and its sync window.
func (m *RecorderMetrics) SessionStarted(sync time.Duration) {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.Recording.Set(1)
	m.PrerollSync.Observe(sync.Seconds())
}

// SessionStopped records a finished session.
func (m *RecorderMetrics) SessionStopped(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsStopped.WithLabelValues(reason).Inc()
	m.Recording.Set(0)
	m.SessionDuration.Observe(duration.Seconds())
}

// AudioPadded records silence appended to one audio file.
func (m *RecorderMetrics) AudioPadded(d time.Duration) {
	if m == nil {
		return
	}
	m.AudioPadding.Observe(d.Seconds())
}

// FileError counts a file error of stream.
func (m *RecorderMetrics) FileError(stream string) {
	if m == nil {
		return
	}
	m.FileErrors.WithLabelValues(stream).Inc()
}

// SessionsStartedTotal returns the number of sessions started since the
// metrics were created.
func (m *RecorderMetrics) SessionsStartedTotal() float64 {
	if m == nil {
		return 0
	}
	metric := &dto.Metric{}
	if err := m.SessionsStarted.Write(metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// Describe implements the prometheus.Collector interface.
func (m *RecorderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Triggers.Describe(ch)
	ch <- m.SessionsStarted.Desc()
	m.SessionsStopped.Describe(ch)
	ch <- m.Recording.Desc()
	ch <- m.SessionDuration.Desc()
	ch <- m.PrerollSync.Desc()
	ch <- m.AudioPadding.Desc()
	m.FileErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RecorderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Triggers.Collect(ch)
	ch <- m.SessionsStarted
	m.SessionsStopped.Collect(ch)
	ch <- m.Recording
	ch <- m.SessionDuration
	ch <- m.PrerollSync
	ch <- m.AudioPadding
	m.FileErrors.Collect(ch)
}
