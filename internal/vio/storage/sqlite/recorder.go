package sqlite

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/publish"
)

// Recorder writes hub messages of one run into a TrajectoryStore.
type Recorder struct {
	store  *TrajectoryStore
	hub    *publish.Hub
	runID  string
	buffer int

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a recorder for runID. buffer sizes the hub
// subscription; fast poses arrive at the inertial rate.
func NewRecorder(store *TrajectoryStore, hub *publish.Hub, runID string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1000
	}
	return &Recorder{store: store, hub: hub, runID: runID, buffer: buffer}
}

// Run records until ctx is cancelled or the hub stops.
func (r *Recorder) Run(ctx context.Context) error {
	id, ch := r.hub.Subscribe(r.buffer,
		publish.TopicOdometry, publish.TopicFastPose,
		publish.TopicPointCloud, publish.TopicLineCloud)
	defer r.hub.Unsubscribe(id)

	vio.Diagf("recording run %s to %s", r.runID, r.store.path)
	for {
		select {
		case <-ctx.Done():
			vio.Diagf("recorder stopped: run=%s written=%d failed=%d", r.runID, r.written.Load(), r.failed.Load())
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.record(ctx, msg); err != nil {
				r.failed.Add(1)
				vio.Opsf("recorder: %v", err)
				continue
			}
			r.written.Add(1)
		}
	}
}

func (r *Recorder) record(ctx context.Context, msg publish.Message) error {
	switch p := msg.Payload.(type) {
	case publish.PoseMsg:
		return r.store.InsertPose(ctx, r.runID, msg.Topic, poseRow(msg, p))
	case publish.CloudMsg:
		return r.store.InsertCloud(ctx, r.runID, msg.Topic, msg.Stamp, msg.Seq, len(p.Points))
	case publish.LineCloudMsg:
		return r.store.InsertCloud(ctx, r.runID, msg.Topic, msg.Stamp, msg.Seq, len(p.Segments))
	}
	vio.Tracef("recorder: ignoring %s payload %T", msg.Topic, msg.Payload)
	return nil
}

func poseRow(msg publish.Message, p publish.PoseMsg) PoseRow {
	row := PoseRow{
		Stamp:       msg.Stamp,
		Seq:         msg.Seq,
		Position:    [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Orientation: [4]float64{p.Orientation.W, p.Orientation.X, p.Orientation.Y, p.Orientation.Z},
	}
	if p.Velocity != nil {
		row.Velocity = &[3]float64{p.Velocity.X, p.Velocity.Y, p.Velocity.Z}
	}
	return row
}

// Written returns the number of stored messages.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Failed returns the number of messages that could not be stored.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }
