package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("", 3200, 2*time.Second)
	m.SessionFinished("parse_miss", 100, time.Second)
	m.Playback("en-US")
	m.Event("keyboard", "press")

	if got := testutil.ToFloat64(m.SessionsStarted); got != 2 {
		t.Errorf("started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SessionsCompleted); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsFailed.WithLabelValues("parse_miss")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadBytes); got != 3300 {
		t.Errorf("bytes = %v, want 3300", got)
	}
	if got := testutil.ToFloat64(m.Playbacks.WithLabelValues("en-US")); got != 1 {
		t.Errorf("playbacks = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.SessionDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionFinished("x", 1, time.Second)
	m.Playback("en")
	m.Event("web", "mode")
}
