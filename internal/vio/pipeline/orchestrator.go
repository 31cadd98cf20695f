package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/banshee-data/vio-frontend/internal/timeutil"
	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/align"
	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

// Config holds the orchestrator's collaborators and settings.
type Config struct {
	CameraCount int
	Buffers     *ingest.Buffers
	Predictor   *propagate.Predictor
	Backend     Backend
	Publisher   BundlePublisher
	Clock       timeutil.Clock   // optional, defaults to timeutil.RealClock
	Metrics     *metrics.Metrics // optional
}

// Orchestrator is the single consumer of the ingest buffers. It extracts
// bundles, drives the back end, publishes outputs and re-anchors the
// predictor.
type Orchestrator struct {
	cameraCount int
	buffers     *ingest.Buffers
	sync        *align.Synchronizer
	predictor   *propagate.Predictor
	backend     Backend
	publisher   BundlePublisher
	clock       timeutil.Clock
	metrics     *metrics.Metrics

	// publishMu is the publish-scope lock. It also guards reloc.
	publishMu sync.Mutex
	reloc     propagate.Relocalization

	// Consumer-goroutine state.
	currentTime float64 // time of the last inertial sample handed to the back end, -1 before the first
	processed   uint64

	// abort is called on a fatal contract violation.
	abort func(format string, args ...interface{})
}

// NewOrchestrator validates cfg and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.CameraCount <= 0 {
		return nil, measurement.ErrInvalidCameraCount
	}
	if cfg.Buffers == nil || cfg.Predictor == nil || cfg.Backend == nil || cfg.Publisher == nil {
		return nil, errors.New("orchestrator requires buffers, predictor, backend and publisher")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{
		cameraCount: cfg.CameraCount,
		buffers:     cfg.Buffers,
		sync:        align.NewSynchronizer(cfg.Metrics),
		predictor:   cfg.Predictor,
		backend:     cfg.Backend,
		publisher:   cfg.Publisher,
		clock:       clock,
		metrics:     cfg.Metrics,
		reloc:       propagate.IdentityRelocalization(),
		currentTime: -1,
		abort:       log.Fatalf,
	}, nil
}

// Run consumes bundles until ctx is cancelled. It returns ctx.Err() on
// cancellation, or the contract violation that aborted processing when
// the abort hook returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	vio.Opsf("orchestrator started: camera_count=%d", o.cameraCount)
	defer func() { vio.Opsf("orchestrator stopped after %d bundles", o.processed) }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.ProcessPending(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.buffers.Wake():
		}
	}
}

// ProcessPending runs one extraction pass and processes every bundle it
// yields. It returns the number of bundles processed.
func (o *Orchestrator) ProcessPending() (int, error) {
	var bundles []measurement.Bundle
	o.buffers.Do(func(q *ingest.Queues) {
		bundles = o.sync.Extract(q)
	})
	if len(bundles) == 0 {
		return 0, nil
	}

	for i, b := range bundles {
		if err := o.processBundle(b); err != nil {
			return i, err
		}
	}

	if o.backend.Solved() {
		o.resetAnchor()
	}
	return len(bundles), nil
}

func (o *Orchestrator) processBundle(b measurement.Bundle) error {
	start := o.clock.Now()

	for _, s := range b.Inertial {
		o.sendInertial(s)
	}

	points, err := measurement.NewPointMap(b.Points, o.cameraCount)
	if err != nil {
		o.abort("fatal: %v", err)
		return fmt.Errorf("decoding point frame: %w", err)
	}
	lines, err := measurement.NewLineMap(b.Lines, o.cameraCount)
	if err != nil {
		o.abort("fatal: %v", err)
		return fmt.Errorf("decoding line frame: %w", err)
	}

	header := b.Points.Header
	o.backend.ProcessFrame(points, lines, header)

	header.FrameID = measurement.WorldFrame
	snapshot := o.backend.Snapshot()

	o.publishMu.Lock()
	reloc := o.reloc
	o.publisher.PublishOdometry(snapshot, header, reloc)
	o.publisher.PublishKeyPoses(snapshot, header, reloc)
	o.publisher.PublishCameraPose(snapshot, header, reloc)
	o.publisher.PublishPointCloud(snapshot, header, reloc)
	o.publisher.PublishLineCloud(snapshot, header, reloc)
	o.publisher.PublishTransform(snapshot, header, reloc)
	o.publishMu.Unlock()

	elapsed := o.clock.Since(start)
	o.processed++
	o.metrics.ObserveBundleSeconds(elapsed.Seconds())
	vio.Diagf("bundle t=%.6f inertial=%d points=%d lines=%d solved=%t took %.2fms",
		b.Time(), len(b.Inertial), len(points), len(lines), snapshot.Solved,
		float64(elapsed.Microseconds())/1000)
	return nil
}

// sendInertial hands one sample to the back end with the interval since
// the previous one.
func (o *Orchestrator) sendInertial(s measurement.InertialSample) {
	if o.currentTime < 0 {
		o.currentTime = s.Time
	}
	dt := s.Time - o.currentTime
	o.currentTime = s.Time
	o.backend.ProcessInertial(dt, s.Accel, s.Gyro)
	vio.Tracef("inertial t=%.6f dt=%.6f", s.Time, dt)
}

// resetAnchor re-anchors the predictor to the back end's window end and
// replays the inertial samples still buffered. Lock order: buffer, then
// state (taken inside ResetAnchor).
func (o *Orchestrator) resetAnchor() {
	reloc := o.Relocalization()
	anchor := o.backend.WindowEnd()
	anchor.Time = o.currentTime

	o.buffers.Do(func(q *ingest.Queues) {
		o.predictor.ResetAnchor(anchor, reloc, q.Inertial())
	})
}

// SetRelocalization installs the drift correction used for publication
// and for subsequent anchor resets.
func (o *Orchestrator) SetRelocalization(r propagate.Relocalization) {
	o.publishMu.Lock()
	o.reloc = r
	o.publishMu.Unlock()
	vio.Opsf("relocalization updated: t=(%.3f, %.3f, %.3f)", r.Translation.X, r.Translation.Y, r.Translation.Z)
}

// Relocalization returns the current drift correction.
func (o *Orchestrator) Relocalization() propagate.Relocalization {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()
	return o.reloc
}

// SyncStats returns the synchronizer counters.
func (o *Orchestrator) SyncStats() align.Stats {
	return o.sync.Stats()
}

// SetAbortFunc replaces the fatal-error hook. The default is log.Fatalf.
func (o *Orchestrator) SetAbortFunc(fn func(format string, args ...interface{})) {
	o.abort = fn
}
