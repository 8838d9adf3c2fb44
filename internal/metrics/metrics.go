// Package metrics exposes Prometheus collectors for the monitoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the pipeline.
type Metrics struct {
	// Stream transport
	StreamBytesTotal prometheus.Counter // Total PCM bytes received
	StreamReconnects prometheus.Counter // Stream reconnection attempts

	// Ring buffer
	BufferOverflowsTotal prometheus.Counter     // Blocks evicted before any consumer read them
	BufferDroppedTotal   *prometheus.CounterVec // Blocks missed per consumer (by cursor)

	// Analysis
	FramesTotal      *prometheus.CounterVec // Frames classified (by state)
	BitsTotal        *prometheus.CounterVec // Bits decoded (by value)
	AudioLevel       prometheus.Gauge       // RMS level of the latest analyzed window
	PeakMagnitude    prometheus.Gauge       // Peak magnitude of the latest frame
	WaterfallEntries prometheus.Gauge       // Entries currently retained in the waterfall log

	// Recording
	SegmentsTotal          prometheus.Counter // Finalized WAV segments
	SegmentsAbandonedTotal prometheus.Counter // Segments dropped due to write failures
	SamplesRecordedTotal   prometheus.Counter // Samples written to disk

	// Persistence
	StorageErrorsTotal prometheus.Counter // Failed database batch writes
}

// New creates and registers all pipeline metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_stream_bytes_total",
			Help: "Total PCM bytes received from the stream source",
		}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_stream_reconnects_total",
			Help: "Stream reconnection attempts",
		}),
		BufferOverflowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_buffer_overflows_total",
			Help: "Blocks evicted from the ring buffer before any consumer read them",
		}),
		BufferDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fskmon_buffer_dropped_total",
			Help: "Blocks a consumer missed due to eviction",
		}, []string{"cursor"}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fskmon_frames_total",
			Help: "Spectrum frames classified, by signal state",
		}, []string{"state"}),
		BitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fskmon_bits_total",
			Help: "Bits decoded from tone transitions, by value",
		}, []string{"bit"}),
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fskmon_audio_level",
			Help: "RMS level of the most recently analyzed window (0..1)",
		}),
		PeakMagnitude: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fskmon_peak_magnitude",
			Help: "Peak magnitude of the most recent spectrum frame",
		}),
		WaterfallEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fskmon_waterfall_entries",
			Help: "Entries currently retained in the waterfall log",
		}),
		SegmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_segments_total",
			Help: "WAV segments finalized",
		}),
		SegmentsAbandonedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_segments_abandoned_total",
			Help: "WAV segments abandoned after write failures",
		}),
		SamplesRecordedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_samples_recorded_total",
			Help: "PCM samples written to WAV segments",
		}),
		StorageErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fskmon_storage_errors_total",
			Help: "Failed database batch writes",
		}),
	}
}
