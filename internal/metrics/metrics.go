// Package metrics holds the Prometheus collectors of the extraction pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movid_videos_processed_total",
		Help: "Total number of videos processed, by status",
	}, []string{"status"})

	VideoProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movid_video_processing_duration_seconds",
		Help:    "Duration of per-video processing stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movid_frames_processed_total",
		Help: "Total number of frames decoded and passed to trackers",
	})

	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movid_frames_skipped_total",
		Help: "Total number of frames that failed to decode",
	})

	DetectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movid_detection_failures_total",
		Help: "Total number of tracker failures on single frames, by tracker kind",
	}, []string{"kind"})

	LandmarkRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movid_landmark_rows_total",
		Help: "Total number of landmark rows exported",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movid_active_workers",
		Help: "Number of videos currently being processed",
	})
)
