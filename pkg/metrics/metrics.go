package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	SessionDuration  prometheus.Histogram
	SessionTeardowns *prometheus.CounterVec

	// Frame routing metrics
	FramesRouted     *prometheus.CounterVec
	FrameBytesRouted *prometheus.CounterVec
	ResolutionMisses *prometheus.CounterVec
	FrameRoutingTime prometheus.Histogram

	// Recording window metrics
	RecordingWindowsStarted prometheus.Counter
	RecordingWindowsStopped prometheus.Counter
	RecordingWindowDuration prometheus.Histogram

	// Sink metrics
	SinkBytesWritten *prometheus.CounterVec
	SinkWriteRetries prometheus.Counter
	SinkWriteErrors  prometheus.Counter
	SinksOpen        prometheus.Gauge

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callrec_sessions_active",
				Help: "Number of live call sessions",
			},
		)

		SessionsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callrec_sessions_total",
				Help: "Total number of call sessions created",
			},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callrec_session_duration_seconds",
				Help:    "Duration of call sessions from registration to teardown",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		SessionTeardowns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_session_teardowns_total",
				Help: "Total number of session teardowns",
			},
			[]string{"reason"},
		)

		FramesRouted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_frames_routed_total",
				Help: "Total number of audio frames routed to a speaker sink",
			},
			[]string{"call_id", "speaker_key"},
		)

		FrameBytesRouted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_frame_bytes_routed_total",
				Help: "Total number of audio frame bytes routed to a speaker sink",
			},
			[]string{"call_id", "speaker_key"},
		)

		ResolutionMisses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_resolution_misses_total",
				Help: "Frames whose stream id did not resolve to a roster entry",
			},
			[]string{"call_id", "reason"},
		)

		FrameRoutingTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callrec_frame_routing_seconds",
				Help:    "Time spent resolving and appending one audio frame",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
			},
		)

		RecordingWindowsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callrec_recording_windows_started_total",
				Help: "Total number of recording windows started",
			},
		)

		RecordingWindowsStopped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callrec_recording_windows_stopped_total",
				Help: "Total number of recording windows stopped",
			},
		)

		RecordingWindowDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callrec_recording_window_seconds",
				Help:    "Duration of recording windows",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		SinkBytesWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_sink_bytes_written_total",
				Help: "Total bytes persisted per speaker sink",
			},
			[]string{"speaker_key"},
		)

		SinkWriteRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callrec_sink_write_retries_total",
				Help: "Total number of retried sink writes",
			},
		)

		SinkWriteErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callrec_sink_write_errors_total",
				Help: "Total number of sink writes that failed after retry",
			},
		)

		SinksOpen = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callrec_sinks_open",
				Help: "Number of currently open audio sinks",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callrec_amqp_published_total",
				Help: "Total number of AMQP messages published",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callrec_amqp_connection_status",
				Help: "AMQP connection status (1 = connected, 0 = disconnected)",
			},
		)

		registry.MustRegister(
			SessionsActive,
			SessionsTotal,
			SessionDuration,
			SessionTeardowns,

			FramesRouted,
			FrameBytesRouted,
			ResolutionMisses,
			FrameRoutingTime,

			RecordingWindowsStarted,
			RecordingWindowsStopped,
			RecordingWindowDuration,

			SinkBytesWritten,
			SinkWriteRetries,
			SinkWriteErrors,
			SinksOpen,

			AMQPPublishedMessages,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// RecordSessionCreated records a new live session
func RecordSessionCreated() {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Inc()
		SessionsTotal.Inc()
	}
}

// RecordSessionRemoved records a session teardown
func RecordSessionRemoved(reason string, lifetime time.Duration) {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Dec()
		SessionTeardowns.WithLabelValues(reason).Inc()
		SessionDuration.Observe(lifetime.Seconds())
	}
}

// RecordFrameRouted records a frame appended to a speaker sink
func RecordFrameRouted(callID, speakerKey string, bytes int) {
	if metricsEnabled && FramesRouted != nil {
		FramesRouted.WithLabelValues(callID, speakerKey).Inc()
		FrameBytesRouted.WithLabelValues(callID, speakerKey).Add(float64(bytes))
	}
}

// RecordResolutionMiss records a frame whose stream id had no roster owner
func RecordResolutionMiss(callID, reason string) {
	if metricsEnabled && ResolutionMisses != nil {
		ResolutionMisses.WithLabelValues(callID, reason).Inc()
	}
}

// ObserveFrameRouting returns a timer function for frame routing
func ObserveFrameRouting() func() {
	if !metricsEnabled || FrameRoutingTime == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		FrameRoutingTime.Observe(time.Since(start).Seconds())
	}
}

// RecordWindowStarted records a recording window start
func RecordWindowStarted() {
	if metricsEnabled && RecordingWindowsStarted != nil {
		RecordingWindowsStarted.Inc()
	}
}

// RecordWindowStopped records a recording window stop
func RecordWindowStopped(duration time.Duration) {
	if metricsEnabled && RecordingWindowsStopped != nil {
		RecordingWindowsStopped.Inc()
		RecordingWindowDuration.Observe(duration.Seconds())
	}
}

// RecordSinkWrite records bytes persisted for a speaker key
func RecordSinkWrite(speakerKey string, bytes int) {
	if metricsEnabled && SinkBytesWritten != nil {
		SinkBytesWritten.WithLabelValues(speakerKey).Add(float64(bytes))
	}
}

// RecordSinkRetry records a retried sink write
func RecordSinkRetry() {
	if metricsEnabled && SinkWriteRetries != nil {
		SinkWriteRetries.Inc()
	}
}

// RecordSinkError records a sink write that failed after retry
func RecordSinkError() {
	if metricsEnabled && SinkWriteErrors != nil {
		SinkWriteErrors.Inc()
	}
}

// SetSinksOpen sets the number of currently open sinks
func SetSinksOpen(n int) {
	if metricsEnabled && SinksOpen != nil {
		SinksOpen.Set(float64(n))
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if metricsEnabled && AMQPConnectionStatus != nil {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}
