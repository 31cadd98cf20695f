package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestStationaryInertial(t *testing.T) {
	t.Parallel()

	got := StationaryInertial(0, 0.005, 0.01)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, s := range got {
		if s.Accel != Gravity {
			t.Errorf("sample %d accel = %+v, want gravity", i, s.Accel)
		}
	}
	if got[2].Time != 0.01 {
		t.Errorf("last time = %v, want 0.01", got[2].Time)
	}
}

func TestInertialSeries(t *testing.T) {
	t.Parallel()

	got := InertialSeries(1, 0.01, 4, Gravity, r3.Vec{Z: 0.1})
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if math.Abs(got[3].Time-1.03) > 1e-12 {
		t.Errorf("last time = %v, want 1.03", got[3].Time)
	}
}

func TestPointFrameDecodes(t *testing.T) {
	t.Parallel()

	f := PointFrame(0.5, 3, 2, 10, 11)
	if len(f.Observations) != 4 {
		t.Fatalf("observations = %d, want 4", len(f.Observations))
	}
	m, err := measurement.NewPointMap(f, 2)
	AssertNoError(t, err)
	if len(m[10]) != 2 || len(m[11]) != 2 {
		t.Errorf("unexpected map %+v", m)
	}
}

func TestLineFrameDecodes(t *testing.T) {
	t.Parallel()

	f := LineFrame(0.5, 3, 2, 4)
	m, err := measurement.NewLineMap(f, 2)
	AssertNoError(t, err)
	if len(m[4]) != 1 || m[4][0].CameraID != 0 {
		t.Errorf("unexpected map %+v", m)
	}
}
