// Package ingest buffers the inertial, point-feature and line-feature
// streams until the synchronizer consumes them.
//
// Producers never block: every push takes the buffer lock for O(1) work,
// applies the queue's overflow policy and raises the wake signal. The
// single consumer either waits on Wake or inspects the queues inside Do.
package ingest

import (
	"sync"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
)

// DefaultCapacity matches the subscriber queue depth used by the camera
// and inertial drivers.
const DefaultCapacity = 2000

// Config holds the buffer sizing and overflow behaviour.
type Config struct {
	// Capacity bounds each measurement queue. Zero means unbounded.
	Capacity int
	// Policy is applied when a queue is full.
	Policy OverflowPolicy
	// LoopClosure enables the raw image side channel.
	LoopClosure bool
	// RawImageCapacity bounds the raw image queue (always drop-oldest).
	RawImageCapacity int
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:         DefaultCapacity,
		Policy:           DropOldest,
		RawImageCapacity: 100,
	}
}

// Stats is a point-in-time view of the buffers.
type Stats struct {
	InertialDepth int
	PointDepth    int
	LineDepth     int
	ImageDepth    int

	InertialPushed uint64
	PointsPushed   uint64
	LinesPushed    uint64
	ImagesPushed   uint64

	InertialDropped uint64
	PointsDropped   uint64
	LinesDropped    uint64
	ImagesDropped   uint64
	ImagesRejected  uint64

	// UnpairedDiscarded counts frames discarded because the frame they
	// pair with was dropped by the overflow policy.
	UnpairedDiscarded uint64
}

// slot tags a frame with its arrival index on its own stream. The k-th
// point frame pairs with the k-th line frame.
type slot[T any] struct {
	seq   uint64
	frame T
}

// Buffers owns the three synchronized measurement queues and the raw
// image side channel.
type Buffers struct {
	mu       sync.Mutex
	inertial queue[measurement.InertialSample]
	points   queue[slot[measurement.PointFeatureFrame]]
	lines    queue[slot[measurement.LineFeatureFrame]]

	pointSeq uint64
	lineSeq  uint64
	unpaired uint64

	wake chan struct{}

	// Raw images have their own lock; they never take part in
	// synchronization.
	imgMu          sync.Mutex
	images         queue[measurement.RawImage]
	loopClosure    bool
	imagesRejected uint64

	metrics *metrics.Metrics
}

// NewBuffers creates empty buffers.
func NewBuffers(cfg Config) *Buffers {
	imgCap := cfg.RawImageCapacity
	if imgCap <= 0 {
		imgCap = 100
	}
	return &Buffers{
		inertial:    newQueue[measurement.InertialSample](cfg.Capacity, cfg.Policy),
		points:      newQueue[slot[measurement.PointFeatureFrame]](cfg.Capacity, cfg.Policy),
		lines:       newQueue[slot[measurement.LineFeatureFrame]](cfg.Capacity, cfg.Policy),
		wake:        make(chan struct{}, 1),
		images:      newQueue[measurement.RawImage](imgCap, DropOldest),
		loopClosure: cfg.LoopClosure,
		metrics:     cfg.Metrics,
	}
}

// Wake returns the channel signalled after every push. A pending signal
// is never lost: the channel holds one token.
func (b *Buffers) Wake() <-chan struct{} {
	return b.wake
}

func (b *Buffers) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// PushInertial appends an inertial sample and wakes the consumer.
func (b *Buffers) PushInertial(s measurement.InertialSample) {
	b.mu.Lock()
	dropped := b.inertial.push(s)
	depth := b.inertial.len()
	b.mu.Unlock()

	if dropped {
		vio.Opsf("inertial buffer full (%d), dropped a sample at t=%.6f", depth, s.Time)
	}
	b.metrics.RecordPush(metrics.StreamInertial, depth, dropped)
	b.signal()
}

// PushPointFrame appends a point-feature frame and wakes the consumer.
func (b *Buffers) PushPointFrame(f measurement.PointFeatureFrame) {
	b.mu.Lock()
	dropped := b.points.push(slot[measurement.PointFeatureFrame]{seq: b.pointSeq, frame: f})
	b.pointSeq++
	depth := b.points.len()
	b.mu.Unlock()

	if dropped {
		vio.Opsf("point feature buffer full (%d), dropped a frame", depth)
	}
	b.metrics.RecordPush(metrics.StreamPoints, depth, dropped)
	b.signal()
}

// PushLineFrame appends a line-feature frame and wakes the consumer.
func (b *Buffers) PushLineFrame(f measurement.LineFeatureFrame) {
	b.mu.Lock()
	dropped := b.lines.push(slot[measurement.LineFeatureFrame]{seq: b.lineSeq, frame: f})
	b.lineSeq++
	depth := b.lines.len()
	b.mu.Unlock()

	if dropped {
		vio.Opsf("line feature buffer full (%d), dropped a frame", depth)
	}
	b.metrics.RecordPush(metrics.StreamLines, depth, dropped)
	b.signal()
}

// PushRawImage buffers a raw image for loop closure. It returns false when
// loop closure is disabled and the image was ignored.
func (b *Buffers) PushRawImage(img measurement.RawImage) bool {
	b.imgMu.Lock()
	defer b.imgMu.Unlock()
	if !b.loopClosure {
		b.imagesRejected++
		return false
	}
	dropped := b.images.push(img)
	b.metrics.RecordPush(metrics.StreamImages, b.images.len(), dropped)
	return true
}

// DrainRawImages removes and returns every buffered raw image.
func (b *Buffers) DrainRawImages() []measurement.RawImage {
	b.imgMu.Lock()
	defer b.imgMu.Unlock()
	out := b.images.drain()
	b.metrics.SetDepth(metrics.StreamImages, 0)
	return out
}

// Do runs fn while holding the buffer lock. fn must not retain q.
func (b *Buffers) Do(fn func(q *Queues)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alignFrames()
	fn(&Queues{b: b})
	b.metrics.SetDepth(metrics.StreamInertial, b.inertial.len())
	b.metrics.SetDepth(metrics.StreamPoints, b.points.len())
	b.metrics.SetDepth(metrics.StreamLines, b.lines.len())
}

// Stats returns queue depths and counters.
func (b *Buffers) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		InertialDepth:   b.inertial.len(),
		PointDepth:      b.points.len(),
		LineDepth:       b.lines.len(),
		InertialPushed:  b.inertial.pushed,
		PointsPushed:    b.points.pushed,
		LinesPushed:     b.lines.pushed,
		InertialDropped: b.inertial.dropped,
		PointsDropped:   b.points.dropped,
		LinesDropped:    b.lines.dropped,

		UnpairedDiscarded: b.unpaired,
	}
	b.mu.Unlock()

	b.imgMu.Lock()
	s.ImageDepth = b.images.len()
	s.ImagesPushed = b.images.pushed
	s.ImagesDropped = b.images.dropped
	s.ImagesRejected = b.imagesRejected
	b.imgMu.Unlock()
	return s
}

// alignFrames discards head frames whose partner on the other stream was
// dropped, so the heads of both frame queues share an arrival index. The
// buffer lock must be held.
func (b *Buffers) alignFrames() {
	for !b.points.empty() && !b.lines.empty() {
		p, l := b.points.front().seq, b.lines.front().seq
		switch {
		case p < l:
			f := b.points.popFront().frame
			vio.Opsf("discarding point frame t=%.6f: its line frame was dropped", f.Time())
		case l < p:
			f := b.lines.popFront().frame
			vio.Opsf("discarding line frame t=%.6f: its point frame was dropped", f.Time())
		default:
			return
		}
		b.unpaired++
	}
}

// Queues is the locked view of Buffers handed to Do. Its methods assume
// the buffer lock is held.
type Queues struct {
	b *Buffers
}

// Empty reports whether any of the three synchronized queues is empty.
func (q *Queues) Empty() bool {
	return q.b.inertial.empty() || q.b.points.empty() || q.b.lines.empty()
}

// InertialLen returns the number of buffered inertial samples.
func (q *Queues) InertialLen() int { return q.b.inertial.len() }

// PointLen returns the number of buffered point frames.
func (q *Queues) PointLen() int { return q.b.points.len() }

// LineLen returns the number of buffered line frames.
func (q *Queues) LineLen() int { return q.b.lines.len() }

// OldestInertialTime returns the timestamp of the oldest inertial sample.
func (q *Queues) OldestInertialTime() float64 { return q.b.inertial.front().Time }

// NewestInertialTime returns the timestamp of the newest inertial sample.
func (q *Queues) NewestInertialTime() float64 { return q.b.inertial.back().Time }

// OldestFrameTime returns the timestamp of the oldest point frame.
func (q *Queues) OldestFrameTime() float64 { return q.b.points.front().frame.Time() }

// DropFramePair discards the oldest point frame and the oldest line frame.
func (q *Queues) DropFramePair() {
	q.b.points.popFront()
	q.b.lines.popFront()
	q.b.alignFrames()
}

// PopFramePair removes and returns the oldest point and line frames.
func (q *Queues) PopFramePair() (measurement.PointFeatureFrame, measurement.LineFeatureFrame) {
	p, l := q.b.points.popFront(), q.b.lines.popFront()
	q.b.alignFrames()
	return p.frame, l.frame
}

// PopInertialThrough removes and returns every inertial sample with a
// timestamp at or before t, oldest first.
func (q *Queues) PopInertialThrough(t float64) []measurement.InertialSample {
	var out []measurement.InertialSample
	for !q.b.inertial.empty() && q.b.inertial.front().Time <= t {
		out = append(out, q.b.inertial.popFront())
	}
	return out
}

// Inertial returns a copy of the buffered inertial samples without
// consuming them.
func (q *Queues) Inertial() []measurement.InertialSample {
	return q.b.inertial.snapshot()
}
