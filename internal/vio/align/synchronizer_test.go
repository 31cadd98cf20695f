package align

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

func newBuffers() *ingest.Buffers {
	cfg := ingest.DefaultConfig()
	cfg.Capacity = 0
	return ingest.NewBuffers(cfg)
}

func pushInertial(b *ingest.Buffers, times ...float64) {
	for _, ts := range times {
		b.PushInertial(measurement.InertialSample{Time: ts})
	}
}

func pushFrame(b *ingest.Buffers, ts float64) {
	h := measurement.Header{Stamp: ts}
	b.PushPointFrame(measurement.PointFeatureFrame{Header: h})
	b.PushLineFrame(measurement.LineFeatureFrame{Header: h})
}

func extract(s *Synchronizer, b *ingest.Buffers) []measurement.Bundle {
	var out []measurement.Bundle
	b.Do(func(q *ingest.Queues) { out = s.Extract(q) })
	return out
}

func inertialTimes(samples []measurement.InertialSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Time
	}
	return out
}

func residual(b *ingest.Buffers) []float64 {
	var out []float64
	b.Do(func(q *ingest.Queues) { out = inertialTimes(q.Inertial()) })
	return out
}

func TestExtract_SingleBundle(t *testing.T) {
	b := newBuffers()
	pushInertial(b, 0, 0.005, 0.010, 0.015, 0.020)
	pushFrame(b, 0.012)

	s := NewSynchronizer(nil)
	got := extract(s, b)

	require.Len(t, got, 1)
	assert.Equal(t, []float64{0, 0.005, 0.010}, inertialTimes(got[0].Inertial))
	assert.Equal(t, 0.012, got[0].Time())
	assert.Equal(t, 0.012, got[0].Lines.Time())
	assert.Equal(t, []float64{0.015, 0.020}, residual(b))
	assert.Equal(t, Stats{Bundles: 1}, s.Stats())
}

func TestExtract_FrameOnlyReturnsNothing(t *testing.T) {
	b := newBuffers()
	pushFrame(b, 0.012)

	s := NewSynchronizer(nil)
	assert.Empty(t, extract(s, b))
	assert.Equal(t, Stats{}, s.Stats(), "an empty queue is not a wait")

	st := b.Stats()
	assert.Equal(t, 1, st.PointDepth)
	assert.Equal(t, 1, st.LineDepth)
}

func TestExtract_DropsFrameWithoutEarlierInertial(t *testing.T) {
	b := newBuffers()
	pushInertial(b, 0.020)
	pushFrame(b, 0.012)

	s := NewSynchronizer(nil)
	assert.Empty(t, extract(s, b))
	assert.Equal(t, uint64(1), s.Stats().StaleFrames)

	st := b.Stats()
	assert.Zero(t, st.PointDepth)
	assert.Zero(t, st.LineDepth)
	assert.Equal(t, 1, st.InertialDepth)
}

func TestExtract_DropThenRetry(t *testing.T) {
	b := newBuffers()
	pushInertial(b, 0.010, 0.020, 0.030)
	pushFrame(b, 0.005)
	pushFrame(b, 0.015)

	s := NewSynchronizer(nil)
	got := extract(s, b)

	require.Len(t, got, 1)
	assert.Equal(t, 0.015, got[0].Time())
	assert.Equal(t, []float64{0.010}, inertialTimes(got[0].Inertial))
	assert.Equal(t, uint64(1), s.Stats().StaleFrames)
}

func TestExtract_WaitIsIdempotent(t *testing.T) {
	b := newBuffers()
	pushInertial(b, 0, 0.005, 0.010)
	pushFrame(b, 0.010)

	s := NewSynchronizer(nil)
	for i := 0; i < 3; i++ {
		assert.Empty(t, extract(s, b))
		assert.Equal(t, []float64{0, 0.005, 0.010}, residual(b))
		st := b.Stats()
		assert.Equal(t, 1, st.PointDepth)
		assert.Equal(t, 1, st.LineDepth)
	}
	assert.Equal(t, uint64(3), s.Stats().Waits)

	pushInertial(b, 0.015)
	got := extract(s, b)
	require.Len(t, got, 1)
	assert.Equal(t, []float64{0, 0.005, 0.010}, inertialTimes(got[0].Inertial))
}

func TestExtract_CatchUp(t *testing.T) {
	b := newBuffers()
	for i := 0; i <= 40; i++ {
		pushInertial(b, float64(i)*0.005)
	}
	for _, ts := range []float64{0.033, 0.066, 0.099, 0.132, 0.165} {
		pushFrame(b, ts)
	}

	s := NewSynchronizer(nil)
	got := extract(s, b)
	require.Len(t, got, 5)

	prev := -1.0
	for _, bundle := range got {
		require.Greater(t, bundle.Time(), prev)
		for _, smp := range bundle.Inertial {
			assert.LessOrEqual(t, smp.Time, bundle.Time())
			assert.Greater(t, smp.Time, prev)
		}
		prev = bundle.Time()
	}
	for _, ts := range residual(b) {
		assert.Greater(t, ts, 0.165)
	}
}

// Every pushed inertial sample is either emitted exactly once, in order, or
// still buffered, whatever the interleaving of pushes and extractions.
func TestExtract_NoLossNoDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := newBuffers()
	s := NewSynchronizer(nil)

	var pushed, emitted []float64
	var bundleTimes []float64
	imuT, frameT := 0.0, 0.02

	for step := 0; step < 2000; step++ {
		switch rng.Intn(4) {
		case 0, 1, 2:
			imuT += 0.001 + rng.Float64()*0.004
			pushInertial(b, imuT)
			pushed = append(pushed, imuT)
		case 3:
			frameT += 0.02 + rng.Float64()*0.03
			pushFrame(b, frameT)
		}
		if rng.Intn(5) == 0 {
			for _, bundle := range extract(s, b) {
				emitted = append(emitted, inertialTimes(bundle.Inertial)...)
				bundleTimes = append(bundleTimes, bundle.Time())
			}
		}
	}
	for _, bundle := range extract(s, b) {
		emitted = append(emitted, inertialTimes(bundle.Inertial)...)
		bundleTimes = append(bundleTimes, bundle.Time())
	}

	all := append(append([]float64{}, emitted...), residual(b)...)
	assert.Equal(t, pushed, all)
	for i := 1; i < len(bundleTimes); i++ {
		assert.Greater(t, bundleTimes[i], bundleTimes[i-1])
	}
	require.NotEmpty(t, bundleTimes)
}

func TestExtract_BoundedBuffersNeverMispairFrames(t *testing.T) {
	cfg := ingest.DefaultConfig()
	cfg.Capacity = 2
	b := ingest.NewBuffers(cfg)

	// The point producer runs one frame ahead when the queues fill.
	for _, ts := range []float64{0.10, 0.20} {
		b.PushPointFrame(measurement.PointFeatureFrame{Header: measurement.Header{Stamp: ts}})
		b.PushLineFrame(measurement.LineFeatureFrame{Header: measurement.Header{Stamp: ts}})
	}
	b.PushPointFrame(measurement.PointFeatureFrame{Header: measurement.Header{Stamp: 0.30}})
	pushInertial(b, 0.05, 0.25)

	s := NewSynchronizer(nil)
	got := extract(s, b)
	require.Len(t, got, 1)
	assert.Equal(t, 0.20, got[0].Points.Time())
	assert.Equal(t, 0.20, got[0].Lines.Time())

	b.PushLineFrame(measurement.LineFeatureFrame{Header: measurement.Header{Stamp: 0.30}})
	pushInertial(b, 0.60)
	got = extract(s, b)
	require.Len(t, got, 1)
	for _, bundle := range got {
		assert.Equal(t, bundle.Points.Time(), bundle.Lines.Time())
	}
}
