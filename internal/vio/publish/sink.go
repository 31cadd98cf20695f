package publish

import (
	"sync/atomic"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/pipeline"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

// BodyFrame is the child frame of the published transform.
const BodyFrame = "body"

var (
	_ pipeline.BundlePublisher   = (*Sink)(nil)
	_ pipeline.FastPosePublisher = (*Sink)(nil)
)

// Sink turns estimator outputs into hub messages, applying the
// relocalization to every back-end pose.
type Sink struct {
	hub     *Hub
	fastSeq atomic.Uint64
}

// NewSink creates a Sink publishing to hub.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

func correctedPose(p pipeline.Pose, reloc propagate.Relocalization, withVelocity bool) PoseMsg {
	msg := PoseMsg{
		Position:    vec3(reloc.ApplyPosition(p.Position)),
		Orientation: quaternion(reloc.ApplyOrientation(p.Orientation)),
	}
	if withVelocity {
		v := vec3(propagate.Rotate(reloc.Rotation, p.Velocity))
		msg.Velocity = &v
	}
	return msg
}

func (s *Sink) publish(topic string, h measurement.Header, payload interface{}) {
	s.hub.Publish(Message{
		Topic:   topic,
		Stamp:   h.Stamp,
		Seq:     h.Seq,
		FrameID: h.FrameID,
		Payload: payload,
	})
}

// PublishOdometry publishes the corrected window-end pose.
func (s *Sink) PublishOdometry(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	s.publish(TopicOdometry, h, correctedPose(snap.Odometry, reloc, true))
}

// PublishKeyPoses publishes the corrected sliding-window poses.
func (s *Sink) PublishKeyPoses(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	path := PathMsg{Poses: make([]PoseMsg, 0, len(snap.KeyPoses))}
	for _, p := range snap.KeyPoses {
		path.Poses = append(path.Poses, correctedPose(p, reloc, false))
	}
	s.publish(TopicKeyPoses, h, path)
}

// PublishCameraPose publishes the corrected camera pose.
func (s *Sink) PublishCameraPose(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	s.publish(TopicCameraPose, h, correctedPose(snap.CameraPose, reloc, false))
}

// PublishPointCloud publishes the corrected feature points.
func (s *Sink) PublishPointCloud(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	cloud := CloudMsg{Points: make([]Vec3, 0, len(snap.Points))}
	for _, p := range snap.Points {
		cloud.Points = append(cloud.Points, vec3(reloc.ApplyPosition(p)))
	}
	s.publish(TopicPointCloud, h, cloud)
}

// PublishLineCloud publishes the corrected line segments.
func (s *Sink) PublishLineCloud(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	cloud := LineCloudMsg{Segments: make([][2]Vec3, 0, len(snap.Lines))}
	for _, l := range snap.Lines {
		cloud.Segments = append(cloud.Segments, [2]Vec3{
			vec3(reloc.ApplyPosition(l.Start)),
			vec3(reloc.ApplyPosition(l.End)),
		})
	}
	s.publish(TopicLineCloud, h, cloud)
}

// PublishTransform publishes the world to body transform.
func (s *Sink) PublishTransform(snap pipeline.EstimatorSnapshot, h measurement.Header, reloc propagate.Relocalization) {
	if !snap.Solved {
		return
	}
	pose := correctedPose(snap.Odometry, reloc, false)
	s.publish(TopicTransform, h, TransformMsg{
		Parent:      h.FrameID,
		Child:       BodyFrame,
		Translation: pose.Position,
		Rotation:    pose.Orientation,
	})
}

// PublishFastPose publishes a dead-reckoned pose.
func (s *Sink) PublishFastPose(st propagate.FastState, h measurement.Header) {
	h.Seq = s.fastSeq.Add(1)
	v := vec3(st.Velocity)
	s.publish(TopicFastPose, h, PoseMsg{
		Position:    vec3(st.Position),
		Orientation: quaternion(st.Orientation),
		Velocity:    &v,
	})
}
