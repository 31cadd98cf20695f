package propagate

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
)

// Predictor owns the FastState and the state lock guarding it.
//
// Until the first ResetAnchor the predictor is inactive: Predict only
// records the latest reading and emits nothing.
type Predictor struct {
	mu      sync.Mutex
	state   FastState
	active  bool
	gravity r3.Vec
	metrics *metrics.Metrics
}

// NewPredictor creates an inactive predictor. m may be nil.
func NewPredictor(gravity r3.Vec, m *metrics.Metrics) *Predictor {
	return &Predictor{
		state:   FastState{Orientation: Identity},
		gravity: gravity,
		metrics: m,
	}
}

// Predict integrates sample into the fast state. Once the predictor is
// active, emit is called with the new state while the state lock is still
// held. It reports whether the predictor is active.
func (p *Predictor) Predict(sample measurement.InertialSample, emit func(FastState)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		p.state.Time = sample.Time
		p.state.LastAccel = sample.Accel
		p.state.LastGyro = sample.Gyro
		return false
	}
	if sample.Time <= p.state.Time {
		vio.Tracef("predict: skipping sample at t=%.6f, state already at %.6f", sample.Time, p.state.Time)
		return true
	}

	p.state = Integrate(p.state, sample, p.gravity)
	if emit != nil {
		emit(p.state)
		p.metrics.RecordFastPose()
	}
	return true
}

// ResetAnchor replaces the fast state with the back end's window-end
// estimate, corrected by reloc, then re-integrates residual. Velocity and
// biases are copied without correction.
//
// Callers hold the buffer lock while calling ResetAnchor so that no
// inertial sample can be both in residual and concurrently predicted.
func (p *Predictor) ResetAnchor(anchor AnchorState, reloc Relocalization, residual []measurement.InertialSample) FastState {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := FastState(anchor)
	s.Position = reloc.ApplyPosition(anchor.Position)
	s.Orientation = reloc.ApplyOrientation(anchor.Orientation)

	replayed := 0
	for _, sample := range residual {
		if sample.Time <= s.Time {
			continue
		}
		s = Integrate(s, sample, p.gravity)
		replayed++
	}

	p.state = s
	p.active = true
	p.metrics.RecordAnchorReset()
	vio.Tracef("anchor reset at t=%.6f, replayed %d of %d residual samples", anchor.Time, replayed, len(residual))
	return s
}

// State returns a copy of the fast state and whether it is active.
func (p *Predictor) State() (FastState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.active
}

// Gravity returns the gravity vector used for integration.
func (p *Predictor) Gravity() r3.Vec {
	return p.gravity
}
