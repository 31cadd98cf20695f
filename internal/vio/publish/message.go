// Package publish fans estimator outputs out to external consumers: a
// gRPC stream, an MQTT forwarder, WebSocket clients and the trajectory
// recorder all subscribe to one Hub.
package publish

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Output topics.
const (
	TopicOdometry   = "odometry"
	TopicKeyPoses   = "key_poses"
	TopicCameraPose = "camera_pose"
	TopicPointCloud = "point_cloud"
	TopicLineCloud  = "line_cloud"
	TopicTransform  = "tf"
	TopicFastPose   = "fast_pose"
)

// AllTopics lists every output topic.
var AllTopics = []string{
	TopicOdometry, TopicKeyPoses, TopicCameraPose,
	TopicPointCloud, TopicLineCloud, TopicTransform, TopicFastPose,
}

// Vec3 is the wire form of a 3-vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is the wire form of a rotation.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PoseMsg is a stamped pose.
type PoseMsg struct {
	Position    Vec3       `json:"position"`
	Orientation Quaternion `json:"orientation"`
	Velocity    *Vec3      `json:"velocity,omitempty"`
}

// PathMsg is an ordered list of keyframe poses.
type PathMsg struct {
	Poses []PoseMsg `json:"poses"`
}

// CloudMsg is a set of world points.
type CloudMsg struct {
	Points []Vec3 `json:"points"`
}

// LineCloudMsg is a set of world line segments.
type LineCloudMsg struct {
	Segments [][2]Vec3 `json:"segments"`
}

// TransformMsg is the world to body transform.
type TransformMsg struct {
	Parent      string     `json:"parent"`
	Child       string     `json:"child"`
	Translation Vec3       `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// Message is one published output.
type Message struct {
	Topic   string      `json:"topic"`
	Stamp   float64     `json:"stamp"`
	Seq     uint64      `json:"seq"`
	FrameID string      `json:"frame_id"`
	Payload interface{} `json:"payload"`
}

func vec3(v r3.Vec) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }

func quaternion(q quat.Number) Quaternion {
	return Quaternion{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag}
}
