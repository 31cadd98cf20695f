package propagate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

const tol = 1e-9

func vecNear(t *testing.T, want, got r3.Vec, eps float64, msg string) {
	t.Helper()
	if r3.Norm(r3.Sub(want, got)) > eps {
		t.Errorf("%s: got %+v, want %+v", msg, got, want)
	}
}

func stationary(ts float64) measurement.InertialSample {
	return measurement.InertialSample{Time: ts, Accel: DefaultGravity}
}

func yaw(angle float64) quat.Number {
	return quat.Number{Real: math.Cos(angle / 2), Kmag: math.Sin(angle / 2)}
}

func TestRotate(t *testing.T) {
	t.Parallel()

	got := Rotate(yaw(math.Pi/2), r3.Vec{X: 1})
	vecNear(t, r3.Vec{Y: 1}, got, tol, "90 degree yaw of x")

	got = Rotate(Identity, r3.Vec{X: 1, Y: 2, Z: 3})
	vecNear(t, r3.Vec{X: 1, Y: 2, Z: 3}, got, tol, "identity")
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	q := Normalize(quat.Number{Real: 2})
	assert.InDelta(t, 1.0, q.Real, tol)
	assert.Equal(t, Identity, Normalize(quat.Number{}))
}

func TestIntegrate_StationaryHoldsPose(t *testing.T) {
	t.Parallel()

	s := FastState{Orientation: Identity, LastAccel: DefaultGravity}
	for i := 1; i <= 200; i++ {
		s = Integrate(s, stationary(float64(i)*0.005), DefaultGravity)
	}
	vecNear(t, r3.Vec{}, s.Position, tol, "position")
	vecNear(t, r3.Vec{}, s.Velocity, tol, "velocity")
	assert.InDelta(t, 1.0, s.Orientation.Real, tol)
	assert.InDelta(t, 1.0, s.Time, tol)
}

func TestIntegrate_ConstantAcceleration(t *testing.T) {
	t.Parallel()

	accel := r3.Vec{X: 1, Z: 9.81}
	s := FastState{Orientation: Identity, LastAccel: accel}
	for i := 1; i <= 100; i++ {
		s = Integrate(s, measurement.InertialSample{Time: float64(i) * 0.01, Accel: accel}, DefaultGravity)
	}
	// Mid-point integration is exact for constant acceleration.
	vecNear(t, r3.Vec{X: 0.5}, s.Position, 1e-9, "position")
	vecNear(t, r3.Vec{X: 1}, s.Velocity, 1e-9, "velocity")
}

func TestIntegrate_ConstantYawRate(t *testing.T) {
	t.Parallel()

	gyro := r3.Vec{Z: math.Pi / 2}
	s := FastState{Orientation: Identity, LastAccel: DefaultGravity, LastGyro: gyro}
	for i := 1; i <= 1000; i++ {
		s = Integrate(s, measurement.InertialSample{Time: float64(i) * 0.001, Accel: DefaultGravity, Gyro: gyro}, DefaultGravity)
	}
	assert.InDelta(t, 1.0, quat.Abs(s.Orientation), 1e-12)
	vecNear(t, r3.Vec{Y: 1}, Rotate(s.Orientation, r3.Vec{X: 1}), 1e-4, "heading after 1s at pi/2 rad/s")
	vecNear(t, r3.Vec{}, s.Velocity, 1e-9, "velocity")
}

func TestIntegrate_StoresRawReadings(t *testing.T) {
	t.Parallel()

	s := FastState{Orientation: Identity, AccelBias: r3.Vec{X: 0.1}, GyroBias: r3.Vec{Y: 0.2}}
	sample := measurement.InertialSample{Time: 0.01, Accel: r3.Vec{X: 3}, Gyro: r3.Vec{Z: 4}}
	s = Integrate(s, sample, DefaultGravity)
	assert.Equal(t, sample.Accel, s.LastAccel)
	assert.Equal(t, sample.Gyro, s.LastGyro)
}

func TestPredictor_InactiveUntilAnchor(t *testing.T) {
	t.Parallel()

	p := NewPredictor(DefaultGravity, nil)
	emitted := 0
	for i := 0; i < 5; i++ {
		active := p.Predict(stationary(float64(i)*0.005), func(FastState) { emitted++ })
		assert.False(t, active)
	}
	assert.Zero(t, emitted)

	_, active := p.State()
	assert.False(t, active)
}

func TestPredictor_ResetAnchorAppliesRelocalization(t *testing.T) {
	t.Parallel()

	p := NewPredictor(DefaultGravity, nil)
	anchor := AnchorState{
		Time:        1,
		Position:    r3.Vec{X: 1},
		Orientation: Identity,
		Velocity:    r3.Vec{X: 2},
		AccelBias:   r3.Vec{Z: 0.01},
		GyroBias:    r3.Vec{Z: 0.02},
		LastAccel:   DefaultGravity,
	}
	reloc := Relocalization{Rotation: yaw(math.Pi / 2), Translation: r3.Vec{Z: 5}}

	s := p.ResetAnchor(anchor, reloc, nil)

	vecNear(t, r3.Vec{Y: 1, Z: 5}, s.Position, tol, "position")
	vecNear(t, r3.Vec{Y: 1}, Rotate(s.Orientation, r3.Vec{X: 1}), tol, "orientation")
	assert.Equal(t, anchor.Velocity, s.Velocity, "velocity is not rotated")
	assert.Equal(t, anchor.AccelBias, s.AccelBias)
	assert.Equal(t, anchor.GyroBias, s.GyroBias)
	assert.Equal(t, 1.0, s.Time)

	got, active := p.State()
	assert.True(t, active)
	assert.Equal(t, s, got)
}

func TestPredictor_ReplayMatchesSequentialIntegration(t *testing.T) {
	t.Parallel()

	anchor := AnchorState{Time: 0, Orientation: Identity, Velocity: r3.Vec{Y: 1}, LastAccel: DefaultGravity}
	var residual []measurement.InertialSample
	for i := 1; i <= 20; i++ {
		residual = append(residual, measurement.InertialSample{
			Time:  float64(i) * 0.005,
			Accel: r3.Vec{X: 0.3 * float64(i%3), Z: 9.81},
			Gyro:  r3.Vec{Z: 0.1 * float64(i%2)},
		})
	}

	want := FastState(anchor)
	for _, s := range residual {
		want = Integrate(want, s, DefaultGravity)
	}

	p := NewPredictor(DefaultGravity, nil)
	got := p.ResetAnchor(anchor, IdentityRelocalization(), residual)
	require.Equal(t, want.Time, got.Time)
	vecNear(t, want.Position, got.Position, tol, "position")
	vecNear(t, want.Velocity, got.Velocity, tol, "velocity")
	assert.Len(t, residual, 20, "residual must not be consumed")
}

func TestPredictor_PredictAfterAnchorEmits(t *testing.T) {
	t.Parallel()

	p := NewPredictor(DefaultGravity, nil)
	p.ResetAnchor(AnchorState{Time: 1, Orientation: Identity, LastAccel: DefaultGravity}, IdentityRelocalization(), nil)

	var got []float64
	emit := func(s FastState) { got = append(got, s.Time) }
	assert.True(t, p.Predict(stationary(1.005), emit))
	assert.True(t, p.Predict(stationary(1.010), emit))
	assert.True(t, p.Predict(stationary(1.010), emit), "duplicate timestamp is skipped")
	assert.Equal(t, []float64{1.005, 1.010}, got)
}
