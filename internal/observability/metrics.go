package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durian",
		Name:      "scans_processed_total",
		Help:      "Total number of scans graded, by status tier",
	}, []string{"status"})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durian",
		Name:      "detections_total",
		Help:      "Total number of valid detections per detector",
	}, []string{"detector"})

	DetectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durian",
		Name:      "detections_dropped_total",
		Help:      "Raw detector records rejected by validation",
	}, []string{"detector"})

	DetectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durian",
		Name:      "detector_failures_total",
		Help:      "Detector passes that failed and were treated as empty",
	}, []string{"detector"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durian",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "durian",
		Name:      "quality_score",
		Help:      "Distribution of graded quality scores",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "durian",
		Name:      "queue_depth",
		Help:      "Number of pending scan tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durian",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "durian",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
