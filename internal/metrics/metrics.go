// Package metrics implements Prometheus metrics for the archiver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PartsReceivedTotal counts message parts received from the DCU.
	PartsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bparchive_parts_received_total",
			Help: "Total number of stream message parts received",
		},
	)

	// FramesWrittenTotal counts minicbf files committed to storage.
	FramesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bparchive_frames_written_total",
			Help: "Total number of image frames written as minicbf files",
		},
	)

	// SeriesCompletedTotal counts image series completed end-to-end.
	SeriesCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bparchive_series_completed_total",
			Help: "Total number of image series committed to storage",
		},
	)

	// ImageBytesDecodedTotal counts decompressed image payload bytes.
	ImageBytesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bparchive_image_bytes_decoded_total",
			Help: "Total decompressed image payload bytes",
		},
	)

	// IdlePollsTotal counts poll timeouts with no incoming data.
	IdlePollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bparchive_idle_polls_total",
			Help: "Total idle poll timeouts while waiting for a series",
		},
	)
)
