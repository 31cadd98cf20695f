package serialmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// ErrSkipLine marks blank lines and device chatter (lines starting with
// '#' or '$') that carry no sample.
var ErrSkipLine = errors.New("not a sample line")

// ParseInertialLine parses "t,ax,ay,az,gx,gy,gz": seconds, m/s^2 and rad/s.
func ParseInertialLine(line string) (measurement.InertialSample, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || line[0] == '$' {
		return measurement.InertialSample{}, ErrSkipLine
	}

	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return measurement.InertialSample{}, fmt.Errorf("expected 7 fields, got %d in %q", len(fields), line)
	}
	var v [7]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return measurement.InertialSample{}, fmt.Errorf("field %d of %q: %w", i, line, err)
		}
		v[i] = x
	}
	return measurement.InertialSample{
		Time:  v[0],
		Accel: r3.Vec{X: v[1], Y: v[2], Z: v[3]},
		Gyro:  r3.Vec{X: v[4], Y: v[5], Z: v[6]},
	}, nil
}
