package pipeline

import (
	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
)

// Node is the inbound facade producers push measurements into. Its
// methods are safe for concurrent use and never block on the consumer.
type Node struct {
	buffers   *ingest.Buffers
	predictor *propagate.Predictor
	fast      FastPosePublisher
}

// NewNode creates a Node. fast may be nil to disable fast pose output.
func NewNode(buffers *ingest.Buffers, predictor *propagate.Predictor, fast FastPosePublisher) *Node {
	return &Node{buffers: buffers, predictor: predictor, fast: fast}
}

// PushInertial buffers s for the synchronizer, then dead-reckons it and
// publishes the fast pose once the predictor has an anchor.
func (n *Node) PushInertial(s measurement.InertialSample) {
	n.buffers.PushInertial(s)

	var emit func(propagate.FastState)
	if n.fast != nil {
		emit = func(st propagate.FastState) {
			n.fast.PublishFastPose(st, measurement.Header{Stamp: s.Time, FrameID: measurement.WorldFrame})
		}
	}
	n.predictor.Predict(s, emit)
}

// PushPointFrame buffers a point-feature frame.
func (n *Node) PushPointFrame(f measurement.PointFeatureFrame) {
	n.buffers.PushPointFrame(f)
}

// PushLineFrame buffers a line-feature frame.
func (n *Node) PushLineFrame(f measurement.LineFeatureFrame) {
	n.buffers.PushLineFrame(f)
}

// PushRawImage buffers a raw image for loop closure. Images are ignored
// when loop closure is disabled.
func (n *Node) PushRawImage(img measurement.RawImage) {
	if !n.buffers.PushRawImage(img) {
		vio.Tracef("raw image seq=%d ignored: loop closure disabled", img.Header.Seq)
	}
}

// DrainRawImages hands the buffered raw images to the loop-closure
// collaborator.
func (n *Node) DrainRawImages() []measurement.RawImage {
	return n.buffers.DrainRawImages()
}
