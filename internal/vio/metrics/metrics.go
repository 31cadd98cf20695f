// Package metrics holds the Prometheus collectors for the estimator front end.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vio"

// Stream labels.
const (
	StreamInertial = "inertial"
	StreamPoints   = "points"
	StreamLines    = "lines"
	StreamImages   = "images"
)

// Metrics groups every collector exported by the front end.
type Metrics struct {
	pushes    *prometheus.CounterVec
	overflows *prometheus.CounterVec
	depth     *prometheus.GaugeVec

	syncWaits   prometheus.Counter
	syncDrops   prometheus.Counter
	bundles     prometheus.Counter
	bundleTime  prometheus.Histogram
	fastPoses   prometheus.Counter
	anchorReset prometheus.Counter
	hubDrops    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pushes_total",
			Help:      "Total number of measurements pushed into the ingest buffers",
		}, []string{"stream"}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "overflow_drops_total",
			Help:      "Total number of measurements dropped by the overflow policy",
		}, []string{"stream"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "depth",
			Help:      "Current number of buffered measurements",
		}, []string{"stream"}),
		syncWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "waits_total",
			Help:      "Extraction passes that stopped waiting for inertial coverage",
		}),
		syncDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stale_frames_total",
			Help:      "Frame pairs discarded because no earlier inertial data exists",
		}),
		bundles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "bundles_total",
			Help:      "Bundles handed to the back end",
		}),
		bundleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bundle_seconds",
			Help:      "Wall time spent processing one bundle",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		fastPoses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagate",
			Name:      "fast_poses_total",
			Help:      "Dead-reckoned poses published",
		}),
		anchorReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagate",
			Name:      "anchor_resets_total",
			Help:      "Predictor re-anchors to the back-end window end",
		}),
		hubDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "dropped_messages_total",
			Help:      "Output messages dropped for slow subscribers",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.pushes, m.overflows, m.depth,
		m.syncWaits, m.syncDrops, m.bundles, m.bundleTime,
		m.fastPoses, m.anchorReset, m.hubDrops,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPush counts one push on stream and updates its depth gauge.
func (m *Metrics) RecordPush(stream string, depth int, overflowed bool) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(stream).Inc()
	if overflowed {
		m.overflows.WithLabelValues(stream).Inc()
	}
	m.depth.WithLabelValues(stream).Set(float64(depth))
}

// SetDepth updates the depth gauge for stream.
func (m *Metrics) SetDepth(stream string, depth int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(stream).Set(float64(depth))
}

// RecordWait counts a synchronizer wait.
func (m *Metrics) RecordWait() {
	if m == nil {
		return
	}
	m.syncWaits.Inc()
}

// RecordStaleFrame counts a discarded frame pair.
func (m *Metrics) RecordStaleFrame() {
	if m == nil {
		return
	}
	m.syncDrops.Inc()
}

// RecordBundle counts an emitted bundle.
func (m *Metrics) RecordBundle() {
	if m == nil {
		return
	}
	m.bundles.Inc()
}

// ObserveBundleSeconds records bundle processing time.
func (m *Metrics) ObserveBundleSeconds(s float64) {
	if m == nil {
		return
	}
	m.bundleTime.Observe(s)
}

// RecordFastPose counts a published dead-reckoned pose.
func (m *Metrics) RecordFastPose() {
	if m == nil {
		return
	}
	m.fastPoses.Inc()
}

// RecordAnchorReset counts a predictor re-anchor.
func (m *Metrics) RecordAnchorReset() {
	if m == nil {
		return
	}
	m.anchorReset.Inc()
}

// RecordHubDrop counts an output message dropped for a slow subscriber.
func (m *Metrics) RecordHubDrop() {
	if m == nil {
		return
	}
	m.hubDrops.Inc()
}
