package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/vio-frontend/internal/vio/storage/sqlite"
)

func TestBuildPlot(t *testing.T) {
	series := map[string][]sqlite.PoseRow{
		sqlite.SourceOdometry: {{Position: [3]float64{0, 0, 0}}, {Position: [3]float64{1, 2, 0}}},
		sqlite.SourceFastPose: {{Position: [3]float64{0, 0, 0}}, {Position: [3]float64{1.1, 2.1, 0}}},
	}
	p, err := buildPlot("r1", series)
	require.NoError(t, err)
	assert.Equal(t, "Trajectory r1", p.Title.Text)

	out := filepath.Join(t.TempDir(), "t.png")
	require.NoError(t, p.Save(4*vg.Inch, 4*vg.Inch, out))
	assert.FileExists(t, out)
}

func TestBuildPlot_RejectsNaN(t *testing.T) {
	bad := [3]float64{math.NaN(), 0, 0}
	_, err := buildPlot("r", map[string][]sqlite.PoseRow{sqlite.SourceOdometry: {{Position: bad}}})
	assert.Error(t, err)
}
