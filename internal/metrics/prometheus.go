package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the push-to-talk counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	SessionDuration   prometheus.Histogram
	Playbacks         *prometheus.CounterVec
	Events            *prometheus.CounterVec
}

// New registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "talkback_sessions_started_total",
			Help: "Recognition sessions started",
		}),
		SessionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "talkback_sessions_completed_total",
			Help: "Recognition sessions that produced text",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talkback_sessions_failed_total",
			Help: "Recognition sessions that ended without text",
		}, []string{"reason"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "talkback_upload_bytes_total",
			Help: "Raw audio bytes streamed to the recognizer",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "talkback_session_duration_seconds",
			Help:    "Press to response duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		Playbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talkback_playbacks_total",
			Help: "Playbacks started, by language",
		}, []string{"lang"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "talkback_input_events_total",
			Help: "Input events handled",
		}, []string{"source", "action"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// SessionFinished records the outcome of a session. An empty reason means
// it completed.
func (m *Metrics) SessionFinished(reason string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		m.SessionsCompleted.Inc()
	} else {
		m.SessionsFailed.WithLabelValues(reason).Inc()
	}
	m.UploadBytes.Add(float64(bytes))
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) Playback(lang string) {
	if m == nil {
		return
	}
	m.Playbacks.WithLabelValues(lang).Inc()
}

func (m *Metrics) Event(source, action string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(source, action).Inc()
}
