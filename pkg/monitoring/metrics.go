package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream health metrics, updated by the latency controllers and
// the metadata receive path.
var (
	FrameLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "em",
		Name:      "frame_latency_ms",
		Help:      "Mean end-to-end frame latency over the last evaluation window.",
	})
	JitterTarget = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "em",
		Name:      "jitter_buffer_ms",
		Help:      "Current jitter buffer depth directive.",
	})
	BitrateTier = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "em",
		Name:      "bitrate_bps",
		Help:      "Current encoder bitrate directive.",
	})
	MetadataDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "em",
		Name:      "metadata_decode_errors_total",
		Help:      "Down/Up messages dropped due to malformed payloads.",
	})
	PoseAbsentFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "em",
		Name:      "pose_absent_frames_total",
		Help:      "Decoded frames delivered without usable pose data.",
	})
)
