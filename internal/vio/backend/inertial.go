// Package backend provides InertialOnly, a reference estimator used for
// bench runs and tests in place of the sliding-window optimizer.
//
// InertialOnly runs a static initialization over the first frames
// (gyro bias and gravity alignment from averaged readings), then dead
// reckons with the same mid-point integration as the predictor. Feature
// observations are placed at a nominal depth along their rays so the
// point and line cloud outputs carry data.
package backend

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/pipeline"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

// Config holds InertialOnly settings.
type Config struct {
	// SolveAfterFrames is the number of frames spent in static
	// initialization before the estimator reports solved.
	SolveAfterFrames int
	// WindowSize is the number of keyframe poses retained.
	WindowSize int
	// Gravity is the world-frame gravity vector.
	Gravity r3.Vec
	// FeatureDepth is the nominal depth (m) used to place observed features.
	FeatureDepth float64
	// CameraRotation and CameraTranslation map camera to body.
	CameraRotation    quat.Number
	CameraTranslation r3.Vec
}

// DefaultConfig returns the default InertialOnly configuration.
func DefaultConfig() Config {
	return Config{
		SolveAfterFrames: 10,
		WindowSize:       10,
		Gravity:          propagate.DefaultGravity,
		FeatureDepth:     5,
		CameraRotation:   propagate.Identity,
	}
}

var _ pipeline.Backend = (*InertialOnly)(nil)

// InertialOnly is a reference pipeline.Backend. It is driven from the
// orchestrator goroutine only and is not safe for concurrent use.
type InertialOnly struct {
	cfg Config

	state  propagate.FastState
	frames int
	solved bool

	// Static initialization accumulators.
	accSum  r3.Vec
	gyrSum  r3.Vec
	samples int

	window []pipeline.Pose
	last   pipeline.EstimatorSnapshot
}

// NewInertialOnly creates an unsolved estimator.
func NewInertialOnly(cfg Config) *InertialOnly {
	def := DefaultConfig()
	if cfg.SolveAfterFrames <= 0 {
		cfg.SolveAfterFrames = def.SolveAfterFrames
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Gravity == (r3.Vec{}) {
		cfg.Gravity = def.Gravity
	}
	if cfg.FeatureDepth <= 0 {
		cfg.FeatureDepth = def.FeatureDepth
	}
	if cfg.CameraRotation == (quat.Number{}) {
		cfg.CameraRotation = propagate.Identity
	}
	return &InertialOnly{
		cfg:   cfg,
		state: propagate.FastState{Orientation: propagate.Identity},
	}
}

// ProcessInertial integrates one reading once solved, and accumulates
// initialization statistics before that.
func (e *InertialOnly) ProcessInertial(dt float64, accel, gyro r3.Vec) {
	sample := measurement.InertialSample{Time: e.state.Time + dt, Accel: accel, Gyro: gyro}
	if !e.solved {
		e.accSum = r3.Add(e.accSum, accel)
		e.gyrSum = r3.Add(e.gyrSum, gyro)
		e.samples++
		e.state.Time = sample.Time
		e.state.LastAccel = accel
		e.state.LastGyro = gyro
		return
	}
	e.state = propagate.Integrate(e.state, sample, e.cfg.Gravity)
}

// ProcessFrame appends a keyframe pose and places the observed features.
func (e *InertialOnly) ProcessFrame(points measurement.PointMap, lines measurement.LineMap, header measurement.Header) {
	e.frames++
	if !e.solved && e.frames >= e.cfg.SolveAfterFrames && e.samples > 0 {
		e.initialize()
	}

	pose := pipeline.Pose{
		Time:        header.Stamp,
		Position:    e.state.Position,
		Orientation: e.state.Orientation,
		Velocity:    e.state.Velocity,
	}
	e.window = append(e.window, pose)
	if len(e.window) > e.cfg.WindowSize {
		e.window = append(e.window[:0:0], e.window[len(e.window)-e.cfg.WindowSize:]...)
	}

	camPose := pipeline.Pose{
		Time:        header.Stamp,
		Position:    r3.Add(pose.Position, propagate.Rotate(pose.Orientation, e.cfg.CameraTranslation)),
		Orientation: propagate.Normalize(quat.Mul(pose.Orientation, e.cfg.CameraRotation)),
	}

	snap := pipeline.EstimatorSnapshot{
		Solved:     e.solved,
		Odometry:   pose,
		KeyPoses:   append([]pipeline.Pose(nil), e.window...),
		CameraPose: camPose,
	}
	if e.solved {
		for _, id := range points.IDs() {
			obs := points[id][0]
			snap.Points = append(snap.Points, e.toWorld(camPose, obs.Ray))
		}
		for _, id := range lines.IDs() {
			obs := lines[id][0]
			snap.Lines = append(snap.Lines, pipeline.Segment{
				Start: e.toWorld(camPose, r3.Vec{X: obs.Start.X, Y: obs.Start.Y, Z: 1}),
				End:   e.toWorld(camPose, r3.Vec{X: obs.End.X, Y: obs.End.Y, Z: 1}),
			})
		}
	}
	e.last = snap

	vio.Diagf("backend frame %d t=%.6f solved=%t p=(%.3f, %.3f, %.3f) features=%d/%d",
		e.frames, header.Stamp, e.solved,
		pose.Position.X, pose.Position.Y, pose.Position.Z, len(points), len(lines))
}

// initialize sets gyro bias and attitude from the averaged static readings.
func (e *InertialOnly) initialize() {
	n := float64(e.samples)
	meanAcc := r3.Scale(1/n, e.accSum)
	e.state.GyroBias = r3.Scale(1/n, e.gyrSum)
	e.state.Orientation = alignTo(meanAcc, e.cfg.Gravity)
	e.state.Velocity = r3.Vec{}
	e.state.Position = r3.Vec{}
	e.solved = true
	vio.Opsf("backend initialized after %d frames, %d inertial samples; gyro bias=(%.4f, %.4f, %.4f)",
		e.frames, e.samples, e.state.GyroBias.X, e.state.GyroBias.Y, e.state.GyroBias.Z)
}

func (e *InertialOnly) toWorld(cam pipeline.Pose, ray r3.Vec) r3.Vec {
	return r3.Add(cam.Position, propagate.Rotate(cam.Orientation, r3.Scale(e.cfg.FeatureDepth, ray)))
}

// Solved reports whether static initialization has completed.
func (e *InertialOnly) Solved() bool { return e.solved }

// WindowEnd returns the current state as the anchor for the predictor.
func (e *InertialOnly) WindowEnd() propagate.AnchorState {
	return propagate.AnchorState(e.state)
}

// Snapshot returns the outputs of the last processed frame.
func (e *InertialOnly) Snapshot() pipeline.EstimatorSnapshot {
	return e.last
}

// Frames returns the number of processed frames.
func (e *InertialOnly) Frames() int { return e.frames }

// alignTo returns the rotation taking body vector from onto world vector to.
func alignTo(from, to r3.Vec) quat.Number {
	a := r3.Unit(from)
	b := r3.Unit(to)
	d := r3.Dot(a, b)
	if d < -1+1e-9 {
		// Opposite vectors: rotate half a turn about any perpendicular axis.
		axis := r3.Cross(r3.Vec{X: 1}, a)
		if r3.Norm(axis) < 1e-9 {
			axis = r3.Cross(r3.Vec{Y: 1}, a)
		}
		axis = r3.Unit(axis)
		return quat.Number{Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
	}
	c := r3.Cross(a, b)
	q := quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z}
	if math.IsNaN(quat.Abs(q)) {
		return propagate.Identity
	}
	return propagate.Normalize(q)
}
