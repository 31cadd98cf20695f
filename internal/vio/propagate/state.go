// Package propagate dead-reckons a low-latency pose between back-end
// updates using mid-point inertial integration.
package propagate

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// DefaultGravity is the world-frame gravity vector, z up.
var DefaultGravity = r3.Vec{X: 0, Y: 0, Z: 9.81}

// FastState is the dead-reckoned body state.
type FastState struct {
	Time        float64 // time of the last integrated reading
	Position    r3.Vec
	Orientation quat.Number // unit quaternion, body to world
	Velocity    r3.Vec
	AccelBias   r3.Vec
	GyroBias    r3.Vec
	LastAccel   r3.Vec // raw accelerometer reading at Time
	LastGyro    r3.Vec // raw gyroscope reading at Time
}

// AnchorState is the back end's estimate at the end of its sliding window.
type AnchorState FastState

// Identity is the unit quaternion.
var Identity = quat.Number{Real: 1}

// Relocalization is the drift correction from the loop-closure
// collaborator, applied to every pose taken from the back end.
type Relocalization struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// IdentityRelocalization returns the no-op correction.
func IdentityRelocalization() Relocalization {
	return Relocalization{Rotation: Identity}
}

// ApplyPosition maps a back-end position into the corrected world frame.
func (r Relocalization) ApplyPosition(p r3.Vec) r3.Vec {
	return r3.Add(Rotate(r.Rotation, p), r.Translation)
}

// ApplyOrientation maps a back-end orientation into the corrected world frame.
func (r Relocalization) ApplyOrientation(q quat.Number) quat.Number {
	return Normalize(quat.Mul(r.Rotation, q))
}

// Rotate applies the rotation q to v. q must be a unit quaternion.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// Normalize scales q to unit norm. The zero quaternion maps to Identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return Identity
	}
	return quat.Scale(1/n, q)
}

// deltaQ is the small-angle quaternion for the rotation vector theta.
func deltaQ(theta r3.Vec) quat.Number {
	half := r3.Scale(0.5, theta)
	return quat.Number{Real: 1, Imag: half.X, Jmag: half.Y, Kmag: half.Z}
}

// Integrate advances s to sample.Time with one mid-point step.
//
// The step averages the gravity-compensated world-frame acceleration at
// the previous and the new reading, and the bias-corrected angular rate of
// both readings. The stored last readings are the raw values.
func Integrate(s FastState, sample measurement.InertialSample, gravity r3.Vec) FastState {
	dt := sample.Time - s.Time

	accPrev := r3.Sub(Rotate(s.Orientation, r3.Sub(s.LastAccel, s.AccelBias)), gravity)
	gyr := r3.Sub(r3.Scale(0.5, r3.Add(s.LastGyro, sample.Gyro)), s.GyroBias)
	s.Orientation = Normalize(quat.Mul(s.Orientation, deltaQ(r3.Scale(dt, gyr))))
	accCur := r3.Sub(Rotate(s.Orientation, r3.Sub(sample.Accel, s.AccelBias)), gravity)
	acc := r3.Scale(0.5, r3.Add(accPrev, accCur))

	s.Position = r3.Add(s.Position, r3.Add(r3.Scale(dt, s.Velocity), r3.Scale(0.5*dt*dt, acc)))
	s.Velocity = r3.Add(s.Velocity, r3.Scale(dt, acc))

	s.LastAccel = sample.Accel
	s.LastGyro = sample.Gyro
	s.Time = sample.Time
	return s
}
