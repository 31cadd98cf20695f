// Package measurement defines the sensor streams handled by the front end
// and the canonical feature maps handed to the back-end estimator.
package measurement

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// WorldFrame is the frame id stamped on every published output.
const WorldFrame = "world"

// Header is the per-frame header forwarded to the back end and publishers.
type Header struct {
	Stamp   float64 // seconds
	FrameID string
	Seq     uint64
}

// InertialSample is one accelerometer + gyroscope reading.
type InertialSample struct {
	Time  float64 // seconds
	Accel r3.Vec  // specific force, m/s^2
	Gyro  r3.Vec  // angular rate, rad/s
}

// PointObservation is a normalized bearing to a tracked point feature.
// ID is the encoded feature id (see EncodeFeatureID). Z must be 1.
type PointObservation struct {
	ID      int
	X, Y, Z float64
}

// LineObservation is a tracked line segment in normalized image coordinates.
type LineObservation struct {
	ID    int
	Start r2.Vec
	End   r2.Vec
}

// PointFeatureFrame is the set of point observations for one image instant.
type PointFeatureFrame struct {
	Header       Header
	Observations []PointObservation
}

// Time returns the frame timestamp in seconds.
func (f PointFeatureFrame) Time() float64 { return f.Header.Stamp }

// LineFeatureFrame is the set of line observations for one image instant.
type LineFeatureFrame struct {
	Header       Header
	Observations []LineObservation
}

// Time returns the frame timestamp in seconds.
func (f LineFeatureFrame) Time() float64 { return f.Header.Stamp }

// RawImage is an undecoded camera image kept for the loop-closure
// collaborator. It never takes part in synchronization.
type RawImage struct {
	Header   Header
	Width    int
	Height   int
	Encoding string
	Data     []byte
}

// Bundle is one unit of work for the back end: every inertial sample up to
// and including the frame time, plus the point and line frame paired by
// arrival order.
type Bundle struct {
	Inertial []InertialSample
	Points   PointFeatureFrame
	Lines    LineFeatureFrame
}

// Time returns the bundle's frame time (the point frame timestamp).
func (b Bundle) Time() float64 { return b.Points.Time() }
