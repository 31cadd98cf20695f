package serialmux

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// InertialSink receives parsed samples. pipeline.Node implements it.
type InertialSink interface {
	PushInertial(measurement.InertialSample)
}

// LineSource is the subscriber side of a SerialMux.
type LineSource interface {
	Subscribe(buffer int) (string, <-chan string)
	Unsubscribe(id string)
}

// InertialSource turns serial lines into inertial samples.
type InertialSource struct {
	mux  LineSource
	sink InertialSink

	samples   atomic.Uint64
	malformed atomic.Uint64
	lastTime  float64
}

// NewInertialSource creates a source reading from mux.
func NewInertialSource(mux LineSource, sink InertialSink) *InertialSource {
	return &InertialSource{mux: mux, sink: sink, lastTime: -1}
}

// Run forwards samples until ctx is cancelled or the mux closes.
// Samples that do not advance time are discarded.
func (s *InertialSource) Run(ctx context.Context) error {
	id, lines := s.mux.Subscribe(0)
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			s.handle(line)
		}
	}
}

func (s *InertialSource) handle(line string) {
	sample, err := ParseInertialLine(line)
	if errors.Is(err, ErrSkipLine) {
		return
	}
	if err != nil {
		if n := s.malformed.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[serialmux] malformed inertial line (%d so far): %v", n, err)
		}
		return
	}
	if sample.Time <= s.lastTime {
		s.malformed.Add(1)
		log.Printf("[serialmux] non-increasing stamp %.6f after %.6f, dropped", sample.Time, s.lastTime)
		return
	}
	s.lastTime = sample.Time
	s.samples.Add(1)
	s.sink.PushInertial(sample)
}

// Counts returns the number of forwarded and rejected lines.
func (s *InertialSource) Counts() (samples, malformed uint64) {
	return s.samples.Load(), s.malformed.Load()
}
