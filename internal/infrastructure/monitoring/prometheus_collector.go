package monitoring

import (
	"time"

	"greenearth/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.CallMetrics.
type PrometheusCollector struct {
	activeCalls    prometheus.Gauge
	activeSessions prometheus.Gauge

	participantEvents *prometheus.CounterVec
	staleEvents       prometheus.Counter

	recordings        *prometheus.CounterVec
	recordingDuration prometheus.Histogram
	uploads           *prometheus.CounterVec
	uploadBytes       prometheus.Counter

	mediaFailures *prometheus.CounterVec
}

// NewPrometheusCollector registers the call metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greenearth_calls_active",
			Help: "Number of calls with at least one local session",
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greenearth_call_sessions_active",
			Help: "Number of open per-user call sessions",
		}),

		participantEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenearth_participant_events_total",
			Help: "Participant events applied to sessions, by type",
		}, []string{"type"}),

		staleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenearth_participant_stale_events_total",
			Help: "Participant updates ignored because the user was no longer present",
		}),

		recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenearth_recordings_total",
			Help: "Finished recordings, by outcome",
		}, []string{"outcome"}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenearth_recording_duration_seconds",
			Help:    "Length of finished recordings",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),

		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenearth_recording_uploads_total",
			Help: "Recording uploads, by result",
		}, []string{"result"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenearth_recording_upload_bytes_total",
			Help: "Bytes of successfully uploaded recordings",
		}),

		mediaFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenearth_media_acquisition_failures_total",
			Help: "Failed local media acquisitions, by reason",
		}, []string{"reason"}),
	}
}

func (c *PrometheusCollector) SetActiveCalls(n int) {
	c.activeCalls.Set(float64(n))
}

func (c *PrometheusCollector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *PrometheusCollector) ParticipantEvent(eventType domain.CallEventType) {
	c.participantEvents.WithLabelValues(string(eventType)).Inc()
}

func (c *PrometheusCollector) StaleEvent() {
	c.staleEvents.Inc()
}

func (c *PrometheusCollector) RecordingFinished(outcome string, duration time.Duration) {
	c.recordings.WithLabelValues(outcome).Inc()
	c.recordingDuration.Observe(duration.Seconds())
}

func (c *PrometheusCollector) UploadResult(result string, size int) {
	c.uploads.WithLabelValues(result).Inc()
	if result == "success" {
		c.uploadBytes.Add(float64(size))
	}
}

func (c *PrometheusCollector) MediaAcquisitionFailed(reason string) {
	c.mediaFailures.WithLabelValues(reason).Inc()
}
