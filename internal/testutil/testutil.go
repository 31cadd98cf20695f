// Package testutil provides shared test helpers and synthetic measurement
// streams.
package testutil

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// Gravity is the specific force read by a level, stationary unit.
var Gravity = r3.Vec{Z: 9.81}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// StationaryInertial returns one stationary sample per timestamp.
func StationaryInertial(times ...float64) []measurement.InertialSample {
	out := make([]measurement.InertialSample, len(times))
	for i, ts := range times {
		out[i] = measurement.InertialSample{Time: ts, Accel: Gravity}
	}
	return out
}

// InertialSeries returns n samples at period dt starting at t0, all with
// the same readings.
func InertialSeries(t0, dt float64, n int, accel, gyro r3.Vec) []measurement.InertialSample {
	out := make([]measurement.InertialSample, n)
	for i := range out {
		out[i] = measurement.InertialSample{Time: t0 + float64(i)*dt, Accel: accel, Gyro: gyro}
	}
	return out
}

// PointFrame builds a point frame observing each feature id from every
// camera, with rays on the z=1 plane.
func PointFrame(ts float64, seq uint64, cameraCount int, featureIDs ...int) measurement.PointFeatureFrame {
	f := measurement.PointFeatureFrame{Header: measurement.Header{Stamp: ts, Seq: seq, FrameID: "camera"}}
	for _, id := range featureIDs {
		for cam := 0; cam < cameraCount; cam++ {
			f.Observations = append(f.Observations, measurement.PointObservation{
				ID: measurement.EncodeFeatureID(id, cam, cameraCount),
				X:  0.01 * float64(id),
				Y:  -0.01 * float64(cam),
				Z:  1,
			})
		}
	}
	return f
}

// LineFrame builds a line frame observing each feature id from camera 0.
func LineFrame(ts float64, seq uint64, cameraCount int, featureIDs ...int) measurement.LineFeatureFrame {
	f := measurement.LineFeatureFrame{Header: measurement.Header{Stamp: ts, Seq: seq, FrameID: "camera"}}
	for _, id := range featureIDs {
		f.Observations = append(f.Observations, measurement.LineObservation{
			ID:    measurement.EncodeFeatureID(id, 0, cameraCount),
			Start: r2.Vec{X: 0, Y: 0.1 * float64(id)},
			End:   r2.Vec{X: 1, Y: 0.1 * float64(id)},
		})
	}
	return f
}
