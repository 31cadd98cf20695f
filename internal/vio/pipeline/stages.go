package pipeline

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

// Pose is a timestamped rigid-body pose with velocity.
type Pose struct {
	Time        float64
	Position    r3.Vec
	Orientation quat.Number
	Velocity    r3.Vec
}

// Segment is a 3D line segment in the world frame.
type Segment struct {
	Start r3.Vec
	End   r3.Vec
}

// EstimatorSnapshot is what the back end exposes for publication after a
// frame has been processed. Poses are in the back end's frame; publishers
// apply the relocalization they are handed.
type EstimatorSnapshot struct {
	Solved     bool
	Odometry   Pose   // window-end body pose
	KeyPoses   []Pose // sliding-window keyframe poses, oldest first
	CameraPose Pose   // window-end camera pose
	Points     []r3.Vec
	Lines      []Segment
}

// Backend is the nonlinear estimator fed by the orchestrator. All methods
// are called from the single consumer goroutine.
type Backend interface {
	// ProcessInertial integrates one inertial reading; dt is measured from
	// the previous reading handed over (zero for the first).
	ProcessInertial(dt float64, accel, gyro r3.Vec)
	// ProcessFrame runs one estimator update with the decoded feature maps.
	ProcessFrame(points measurement.PointMap, lines measurement.LineMap, header measurement.Header)
	// Solved reports whether the estimator is past initialization.
	Solved() bool
	// WindowEnd returns the newest sliding-window state.
	WindowEnd() propagate.AnchorState
	// Snapshot returns the outputs to publish for the last frame.
	Snapshot() EstimatorSnapshot
}

// BundlePublisher receives the six per-bundle outputs. The orchestrator
// calls all six for a bundle under one publish-scope lock.
type BundlePublisher interface {
	PublishOdometry(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
	PublishKeyPoses(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
	PublishCameraPose(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
	PublishPointCloud(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
	PublishLineCloud(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
	PublishTransform(s EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization)
}

// FastPosePublisher receives every dead-reckoned pose.
type FastPosePublisher interface {
	PublishFastPose(state propagate.FastState, h measurement.Header)
}
