package measurement

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrContractViolation marks upstream data that breaks a producer contract.
// The orchestrator treats it as fatal.
var ErrContractViolation = errors.New("contract violation")

// ErrInvalidCameraCount is returned when the camera count is not positive.
var ErrInvalidCameraCount = errors.New("camera count must be positive")

// EncodeFeatureID packs a feature id and camera index into the single
// integer carried on the wire: featureID*cameraCount + cameraID.
func EncodeFeatureID(featureID, cameraID, cameraCount int) int {
	return featureID*cameraCount + cameraID
}

// DecodeFeatureID is the inverse of EncodeFeatureID.
func DecodeFeatureID(encoded, cameraCount int) (featureID, cameraID int) {
	return encoded / cameraCount, encoded % cameraCount
}

// RoundChannelID converts an id carried as a float channel value back to
// an integer, rounding to the nearest non-negative integer.
func RoundChannelID(v float64) int {
	return int(v + 0.5)
}

// CameraPoint is one camera's observation of a point feature.
type CameraPoint struct {
	CameraID int
	Ray      r3.Vec
}

// CameraLine is one camera's observation of a line feature.
type CameraLine struct {
	CameraID int
	Start    r2.Vec
	End      r2.Vec
}

// PointMap groups point observations by decoded feature id.
type PointMap map[int][]CameraPoint

// LineMap groups line observations by decoded feature id.
type LineMap map[int][]CameraLine

// NewPointMap decodes a point frame into a PointMap. An observation whose
// ray does not lie on the z=1 plane is reported as ErrContractViolation.
func NewPointMap(frame PointFeatureFrame, cameraCount int) (PointMap, error) {
	if cameraCount <= 0 {
		return nil, ErrInvalidCameraCount
	}
	out := make(PointMap, len(frame.Observations))
	for _, obs := range frame.Observations {
		if obs.Z != 1 {
			return nil, fmt.Errorf("%w: point feature %d at t=%.6f has ray z=%g, want 1",
				ErrContractViolation, obs.ID, frame.Time(), obs.Z)
		}
		featureID, cameraID := DecodeFeatureID(obs.ID, cameraCount)
		out[featureID] = append(out[featureID], CameraPoint{
			CameraID: cameraID,
			Ray:      r3.Vec{X: obs.X, Y: obs.Y, Z: obs.Z},
		})
	}
	return out, nil
}

// NewLineMap decodes a line frame into a LineMap.
func NewLineMap(frame LineFeatureFrame, cameraCount int) (LineMap, error) {
	if cameraCount <= 0 {
		return nil, ErrInvalidCameraCount
	}
	out := make(LineMap, len(frame.Observations))
	for _, obs := range frame.Observations {
		featureID, cameraID := DecodeFeatureID(obs.ID, cameraCount)
		out[featureID] = append(out[featureID], CameraLine{
			CameraID: cameraID,
			Start:    obs.Start,
			End:      obs.End,
		})
	}
	return out, nil
}

// IDs returns the feature ids of the map in ascending order.
func (m PointMap) IDs() []int { return sortedKeys(m) }

// IDs returns the feature ids of the map in ascending order.
func (m LineMap) IDs() []int { return sortedKeys(m) }

func sortedKeys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
