// Package align pairs feature frames with the inertial samples that
// precede them.
package align

import (
	"sync/atomic"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
)

// Source is the locked view of the measurement queues the synchronizer
// consumes from. ingest.Queues implements it.
type Source interface {
	// Empty reports whether any of the inertial, point or line queues is empty.
	Empty() bool
	OldestInertialTime() float64
	NewestInertialTime() float64
	// OldestFrameTime is the timestamp of the oldest point frame.
	OldestFrameTime() float64
	DropFramePair()
	PopFramePair() (measurement.PointFeatureFrame, measurement.LineFeatureFrame)
	PopInertialThrough(t float64) []measurement.InertialSample
}

// Stats counts synchronizer outcomes since construction.
type Stats struct {
	Waits       uint64 // passes stopped for insufficient inertial coverage
	StaleFrames uint64 // frame pairs dropped with no earlier inertial data
	Bundles     uint64
}

// Synchronizer turns buffered measurements into bundles.
type Synchronizer struct {
	waits   atomic.Uint64
	stale   atomic.Uint64
	bundles atomic.Uint64
	metrics *metrics.Metrics
}

// NewSynchronizer creates a Synchronizer. m may be nil.
func NewSynchronizer(m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{metrics: m}
}

// Extract removes every complete bundle from src, oldest first. The caller
// must hold the buffer lock for the whole call.
//
// A frame is complete once an inertial sample newer than it has arrived.
// A frame with no inertial sample older than it can never be complete and
// is dropped together with its line frame.
func (s *Synchronizer) Extract(src Source) []measurement.Bundle {
	var out []measurement.Bundle
	for {
		if src.Empty() {
			return out
		}

		frameTime := src.OldestFrameTime()
		if !(src.NewestInertialTime() > frameTime) {
			n := s.waits.Add(1)
			s.metrics.RecordWait()
			vio.Opsf("waiting for inertial data past t=%.6f (newest %.6f), wait #%d",
				frameTime, src.NewestInertialTime(), n)
			return out
		}

		if !(src.OldestInertialTime() < frameTime) {
			s.stale.Add(1)
			s.metrics.RecordStaleFrame()
			vio.Opsf("dropping frame at t=%.6f: oldest inertial sample is %.6f",
				frameTime, src.OldestInertialTime())
			src.DropFramePair()
			continue
		}

		pts, lns := src.PopFramePair()
		inertial := src.PopInertialThrough(pts.Time())
		out = append(out, measurement.Bundle{
			Inertial: inertial,
			Points:   pts,
			Lines:    lns,
		})
		s.bundles.Add(1)
		s.metrics.RecordBundle()
		vio.Tracef("bundle t=%.6f inertial=%d points=%d lines=%d",
			pts.Time(), len(inertial), len(pts.Observations), len(lns.Observations))
	}
}

// Stats returns the outcome counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Waits:       s.waits.Load(),
		StaleFrames: s.stale.Load(),
		Bundles:     s.bundles.Load(),
	}
}
