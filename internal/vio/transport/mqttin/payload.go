package mqttin

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// ErrMalformed marks a payload that could not be turned into a measurement.
var ErrMalformed = errors.New("malformed payload")

type headerJSON struct {
	Stamp   float64 `json:"stamp"`
	Seq     uint64  `json:"seq"`
	FrameID string  `json:"frame_id"`
}

func (h headerJSON) header() measurement.Header {
	return measurement.Header{Stamp: h.Stamp, Seq: h.Seq, FrameID: h.FrameID}
}

type inertialJSON struct {
	Stamp *float64    `json:"stamp"`
	Accel *[3]float64 `json:"accel"`
	Gyro  *[3]float64 `json:"gyro"`
}

// Feature ids travel as floating-point channel values.
type pointJSON struct {
	ID float64 `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

type lineJSON struct {
	ID    float64    `json:"id"`
	Start [2]float64 `json:"start"`
	End   [2]float64 `json:"end"`
}

type pointFrameJSON struct {
	Header headerJSON  `json:"header"`
	Points []pointJSON `json:"points"`
}

type lineFrameJSON struct {
	Header headerJSON `json:"header"`
	Lines  []lineJSON `json:"lines"`
}

type imageJSON struct {
	Header   headerJSON `json:"header"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Encoding string     `json:"encoding"`
	Data     []byte     `json:"data"` // base64
}

// ParseInertial decodes {"stamp":t,"accel":[x,y,z],"gyro":[x,y,z]}.
func ParseInertial(payload []byte) (measurement.InertialSample, error) {
	var in inertialJSON
	if err := json.Unmarshal(payload, &in); err != nil {
		return measurement.InertialSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Stamp == nil || in.Accel == nil || in.Gyro == nil {
		return measurement.InertialSample{}, fmt.Errorf("%w: inertial sample needs stamp, accel and gyro", ErrMalformed)
	}
	return measurement.InertialSample{
		Time:  *in.Stamp,
		Accel: r3.Vec{X: in.Accel[0], Y: in.Accel[1], Z: in.Accel[2]},
		Gyro:  r3.Vec{X: in.Gyro[0], Y: in.Gyro[1], Z: in.Gyro[2]},
	}, nil
}

// ParsePointFrame decodes a point-feature frame. The z == 1 contract is
// left to the orchestrator.
func ParsePointFrame(payload []byte) (measurement.PointFeatureFrame, error) {
	var in pointFrameJSON
	if err := json.Unmarshal(payload, &in); err != nil {
		return measurement.PointFeatureFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	f := measurement.PointFeatureFrame{
		Header:       in.Header.header(),
		Observations: make([]measurement.PointObservation, len(in.Points)),
	}
	for i, p := range in.Points {
		f.Observations[i] = measurement.PointObservation{
			ID: measurement.RoundChannelID(p.ID),
			X:  p.X, Y: p.Y, Z: p.Z,
		}
	}
	return f, nil
}

// ParseLineFrame decodes a line-feature frame.
func ParseLineFrame(payload []byte) (measurement.LineFeatureFrame, error) {
	var in lineFrameJSON
	if err := json.Unmarshal(payload, &in); err != nil {
		return measurement.LineFeatureFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	f := measurement.LineFeatureFrame{
		Header:       in.Header.header(),
		Observations: make([]measurement.LineObservation, len(in.Lines)),
	}
	for i, l := range in.Lines {
		f.Observations[i] = measurement.LineObservation{
			ID:    measurement.RoundChannelID(l.ID),
			Start: r2.Vec{X: l.Start[0], Y: l.Start[1]},
			End:   r2.Vec{X: l.End[0], Y: l.End[1]},
		}
	}
	return f, nil
}

// ParseRawImage decodes a raw image with base64 pixel data.
func ParseRawImage(payload []byte) (measurement.RawImage, error) {
	var in imageJSON
	if err := json.Unmarshal(payload, &in); err != nil {
		return measurement.RawImage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Width <= 0 || in.Height <= 0 {
		return measurement.RawImage{}, fmt.Errorf("%w: image size %dx%d", ErrMalformed, in.Width, in.Height)
	}
	return measurement.RawImage{
		Header:   in.Header.header(),
		Width:    in.Width,
		Height:   in.Height,
		Encoding: in.Encoding,
		Data:     in.Data,
	}, nil
}
