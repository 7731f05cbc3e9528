package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetforge_build_failed_total",
			Help: "Number of times a build has failed",
		},
		[]string{"state", "error_type"},
	)

	BuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetforge_build_count_total",
			Help: "Total number of builds started",
		},
	)

	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetforge_build_duration_seconds",
			Help:    "Build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
	)

	LastBuildStart = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetforge_last_build_start_timestamp",
			Help: "Unix timestamp of when the last build started",
		},
	)

	LastBuildEnd = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetforge_last_build_end_timestamp",
			Help: "Unix timestamp of when the last build ended",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetforge_stage_duration_seconds",
			Help:    "Time spent in a single transformation stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"stage"},
	)

	AssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetforge_assets_processed_total",
			Help: "Number of source assets run through a transformation chain",
		},
		[]string{"rule"},
	)

	ArtifactBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetforge_artifact_bytes_total",
			Help: "Bytes written to the output directory",
		},
		[]string{"kind"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetforge_cache_lookups_total",
			Help: "Transform cache lookups",
		},
		[]string{"result"},
	)
)
