package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	experimentsStreamedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tensorboard",
		Subsystem: "export",
		Name:      "experiments_streamed_total",
		Help:      "Number of experiment records streamed to callers",
	})
	pointsStreamedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tensorboard",
		Subsystem: "export",
		Name:      "points_streamed_total",
		Help:      "Number of time-series points streamed to callers",
	})
	blobBytesStreamedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tensorboard",
		Subsystem: "export",
		Name:      "blob_bytes_streamed_total",
		Help:      "Number of blob payload bytes streamed to callers",
	})
)
