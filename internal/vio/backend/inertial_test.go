package backend

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/testutil"
	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/pipeline"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

func feed(e *InertialOnly, samples []measurement.InertialSample, prev *float64) {
	for _, s := range samples {
		dt := 0.0
		if *prev >= 0 {
			dt = s.Time - *prev
		}
		*prev = s.Time
		e.ProcessInertial(dt, s.Accel, s.Gyro)
	}
}

func frame(t *testing.T, ts float64) (measurement.PointMap, measurement.LineMap, measurement.Header) {
	t.Helper()
	pm, err := measurement.NewPointMap(testutil.PointFrame(ts, 0, 1, 1, 2), 1)
	require.NoError(t, err)
	lm, err := measurement.NewLineMap(testutil.LineFrame(ts, 0, 1, 3), 1)
	require.NoError(t, err)
	return pm, lm, measurement.Header{Stamp: ts}
}

func TestInertialOnly_StaticInitialization(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SolveAfterFrames = 3
	e := NewInertialOnly(cfg)
	bias := r3.Vec{X: 0.01, Y: -0.02, Z: 0.005}

	prev := -1.0
	for i := 0; i < 3; i++ {
		assert.False(t, e.Solved())
		t0 := float64(i) * 0.1
		feed(e, testutil.InertialSeries(t0, 0.005, 20, testutil.Gravity, bias), &prev)
		e.ProcessFrame(frame(t, t0+0.099))
	}
	require.True(t, e.Solved())

	ws := e.WindowEnd()
	assert.InDelta(t, bias.X, ws.GyroBias.X, 1e-12)
	assert.InDelta(t, bias.Y, ws.GyroBias.Y, 1e-12)
	assert.InDelta(t, 1.0, ws.Orientation.Real, 1e-9, "level unit needs no rotation")

	snap := e.Snapshot()
	assert.True(t, snap.Solved)
	assert.Len(t, snap.Points, 2)
	assert.Len(t, snap.Lines, 1)
	assert.InDelta(t, 5.0, snap.Points[0].Z, 1e-9, "features are placed at the nominal depth")
}

func TestInertialOnly_TiltedInitializationStaysAtRest(t *testing.T) {
	t.Parallel()

	tilt := quat.Number{Real: math.Cos(0.2), Imag: math.Sin(0.2)}
	// A tilted stationary unit reads gravity in its own frame.
	reading := propagate.Rotate(quat.Conj(tilt), testutil.Gravity)

	cfg := DefaultConfig()
	cfg.SolveAfterFrames = 1
	e := NewInertialOnly(cfg)

	prev := -1.0
	feed(e, testutil.InertialSeries(0, 0.005, 10, reading, r3.Vec{}), &prev)
	e.ProcessFrame(frame(t, 0.05))
	require.True(t, e.Solved())

	feed(e, testutil.InertialSeries(0.05, 0.005, 200, reading, r3.Vec{}), &prev)
	ws := e.WindowEnd()
	assert.Less(t, r3.Norm(ws.Velocity), 1e-6)
	assert.Less(t, r3.Norm(ws.Position), 1e-6)
}

func TestInertialOnly_WindowIsBounded(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.SolveAfterFrames = 1
	e := NewInertialOnly(cfg)

	prev := -1.0
	for i := 0; i < 10; i++ {
		ts := float64(i) * 0.1
		feed(e, testutil.StationaryInertial(ts, ts+0.05), &prev)
		e.ProcessFrame(frame(t, ts+0.06))
	}
	snap := e.Snapshot()
	require.Len(t, snap.KeyPoses, 4)
	assert.InDelta(t, 0.96, snap.KeyPoses[3].Time, 1e-12)
	assert.InDelta(t, 0.66, snap.KeyPoses[0].Time, 1e-12)
	assert.Equal(t, 10, e.Frames())
}

func TestAlignTo(t *testing.T) {
	t.Parallel()

	for _, from := range []r3.Vec{{Z: 1}, {X: 1}, {Y: -3}, {Z: -2}, {X: 1, Y: 1, Z: 1}} {
		q := alignTo(from, r3.Vec{Z: 9.81})
		got := propagate.Rotate(q, r3.Unit(from))
		assert.InDelta(t, 1.0, got.Z, 1e-9, "from %+v", from)
	}
}

type fastRecorder struct {
	mu    sync.Mutex
	poses []propagate.FastState
}

func (f *fastRecorder) PublishFastPose(s propagate.FastState, _ measurement.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poses = append(f.poses, s)
}

func (f *fastRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.poses)
}

type discardPublisher struct{}

func (discardPublisher) PublishOdometry(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}
func (discardPublisher) PublishKeyPoses(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}
func (discardPublisher) PublishCameraPose(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}
func (discardPublisher) PublishPointCloud(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}
func (discardPublisher) PublishLineCloud(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}
func (discardPublisher) PublishTransform(pipeline.EstimatorSnapshot, measurement.Header, propagate.Relocalization) {
}

// A stationary run through the whole front end stays at the origin and
// produces fast poses once the reference back end solves.
func TestInertialOnly_EndToEndStationary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SolveAfterFrames = 2
	est := NewInertialOnly(cfg)

	buffers := ingest.NewBuffers(ingest.DefaultConfig())
	pred := propagate.NewPredictor(propagate.DefaultGravity, nil)
	fast := &fastRecorder{}
	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		CameraCount: 1,
		Buffers:     buffers,
		Predictor:   pred,
		Backend:     est,
		Publisher:   discardPublisher{},
	})
	require.NoError(t, err)
	node := pipeline.NewNode(buffers, pred, fast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	samples := testutil.InertialSeries(0, 0.005, 400, testutil.Gravity, r3.Vec{})
	push := func(from, to int) {
		for i := from; i < to; i++ {
			s := samples[i]
			node.PushInertial(s)
			if i > 0 && i%10 == 0 {
				ts := s.Time - 0.001
				node.PushPointFrame(testutil.PointFrame(ts, uint64(i), 1, 1, 2, 3))
				node.PushLineFrame(testutil.LineFrame(ts, uint64(i), 1, 4))
			}
		}
	}

	push(0, 100)
	require.Eventually(t, func() bool {
		_, active := pred.State()
		return active
	}, 2*time.Second, 5*time.Millisecond)

	push(100, len(samples))
	require.Eventually(t, func() bool { return fast.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	fast.mu.Lock()
	defer fast.mu.Unlock()
	for _, p := range fast.poses {
		assert.Less(t, r3.Norm(p.Position), 1e-6)
	}
}
