package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WatchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetforge_watch_events_total",
			Help: "File system events observed in watch mode",
		},
		[]string{"op"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetforge_publish_duration_seconds",
			Help:    "Time spent uploading a build to object storage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)
)
