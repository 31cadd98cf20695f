package measurement

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestFeatureIDCodec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		featureID   int
		cameraID    int
		cameraCount int
		encoded     int
	}{
		{"mono", 42, 0, 1, 42},
		{"stereo left", 7, 0, 2, 14},
		{"stereo right", 7, 1, 2, 15},
		{"zero feature", 0, 2, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EncodeFeatureID(tt.featureID, tt.cameraID, tt.cameraCount)
			assert.Equal(t, tt.encoded, got)

			fid, cid := DecodeFeatureID(got, tt.cameraCount)
			assert.Equal(t, tt.featureID, fid)
			assert.Equal(t, tt.cameraID, cid)
		})
	}
}

func TestRoundChannelID(t *testing.T) {
	t.Parallel()

	for v, want := range map[float64]int{14.0: 14, 14.9999: 15, 15.2: 15, 0: 0} {
		if got := RoundChannelID(v); got != want {
			t.Errorf("RoundChannelID(%v) = %d, want %d", v, got, want)
		}
	}
}

func TestNewPointMap_GroupsByFeature(t *testing.T) {
	t.Parallel()

	frame := PointFeatureFrame{
		Header: Header{Stamp: 1.5},
		Observations: []PointObservation{
			{ID: EncodeFeatureID(3, 0, 2), X: 0.1, Y: 0.2, Z: 1},
			{ID: EncodeFeatureID(3, 1, 2), X: 0.3, Y: 0.4, Z: 1},
			{ID: EncodeFeatureID(9, 0, 2), X: -0.1, Y: 0, Z: 1},
		},
	}

	got, err := NewPointMap(frame, 2)
	require.NoError(t, err)

	want := PointMap{
		3: {
			{CameraID: 0, Ray: r3.Vec{X: 0.1, Y: 0.2, Z: 1}},
			{CameraID: 1, Ray: r3.Vec{X: 0.3, Y: 0.4, Z: 1}},
		},
		9: {{CameraID: 0, Ray: r3.Vec{X: -0.1, Y: 0, Z: 1}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewPointMap mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{3, 9}, got.IDs())
}

func TestNewPointMap_RejectsOffPlaneRay(t *testing.T) {
	t.Parallel()

	frame := PointFeatureFrame{
		Header:       Header{Stamp: 2},
		Observations: []PointObservation{{ID: 4, X: 0.1, Y: 0.1, Z: 0.9}},
	}

	_, err := NewPointMap(frame, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContractViolation))
}

func TestNewLineMap(t *testing.T) {
	t.Parallel()

	frame := LineFeatureFrame{
		Header: Header{Stamp: 1},
		Observations: []LineObservation{
			{ID: 10, Start: r2.Vec{X: 0, Y: 0}, End: r2.Vec{X: 1, Y: 1}},
			{ID: 11, Start: r2.Vec{X: 2, Y: 2}, End: r2.Vec{X: 3, Y: 3}},
		},
	}

	got, err := NewLineMap(frame, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []CameraLine{
		{CameraID: 0, Start: r2.Vec{X: 0, Y: 0}, End: r2.Vec{X: 1, Y: 1}},
		{CameraID: 1, Start: r2.Vec{X: 2, Y: 2}, End: r2.Vec{X: 3, Y: 3}},
	}, got[5])
}

func TestNewMaps_InvalidCameraCount(t *testing.T) {
	t.Parallel()

	_, err := NewPointMap(PointFeatureFrame{}, 0)
	assert.ErrorIs(t, err, ErrInvalidCameraCount)
	_, err = NewLineMap(LineFeatureFrame{}, -1)
	assert.ErrorIs(t, err, ErrInvalidCameraCount)
}
