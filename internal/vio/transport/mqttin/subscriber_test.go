package mqttin

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

type recordingSink struct {
	mu       sync.Mutex
	inertial []measurement.InertialSample
	points   []measurement.PointFeatureFrame
	lines    []measurement.LineFeatureFrame
	images   []measurement.RawImage
}

func (r *recordingSink) PushInertial(s measurement.InertialSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inertial = append(r.inertial, s)
}

func (r *recordingSink) PushPointFrame(f measurement.PointFeatureFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, f)
}

func (r *recordingSink) PushLineFrame(f measurement.LineFeatureFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, f)
}

func (r *recordingSink) PushRawImage(img measurement.RawImage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, img)
}

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeClient struct {
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	failTopic    string
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	if topic == c.failTopic {
		return &doneToken{err: errors.New("not authorized")}
	}
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = cb
	return &doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &doneToken{}
}

func (c *fakeClient) deliver(topic, payload string) {
	c.handlers[topic](nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestParseInertial(t *testing.T) {
	s, err := ParseInertial([]byte(`{"stamp":1.25,"accel":[0,0.1,9.81],"gyro":[0.01,0,0]}`))
	require.NoError(t, err)
	assert.Equal(t, 1.25, s.Time)
	assert.Equal(t, r3.Vec{Y: 0.1, Z: 9.81}, s.Accel)
	assert.Equal(t, r3.Vec{X: 0.01}, s.Gyro)

	for _, bad := range []string{`{`, `{"accel":[0,0,0],"gyro":[0,0,0]}`, `{"stamp":1,"gyro":[0,0,0]}`} {
		_, err := ParseInertial([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestParsePointFrame_RoundsChannelIDs(t *testing.T) {
	f, err := ParsePointFrame([]byte(`{
		"header": {"stamp": 2.5, "seq": 4, "frame_id": "cam0"},
		"points": [{"id": 6.9999997, "x": 0.1, "y": -0.2, "z": 1}, {"id": 9, "x": 0, "y": 0, "z": 1}]
	}`))
	require.NoError(t, err)
	want := measurement.PointFeatureFrame{
		Header: measurement.Header{Stamp: 2.5, Seq: 4, FrameID: "cam0"},
		Observations: []measurement.PointObservation{
			{ID: 7, X: 0.1, Y: -0.2, Z: 1},
			{ID: 9, Z: 1},
		},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("ParsePointFrame mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLineFrame(t *testing.T) {
	f, err := ParseLineFrame([]byte(`{"header":{"stamp":3},"lines":[{"id":4.0000001,"start":[0,1],"end":[2,3]}]}`))
	require.NoError(t, err)
	require.Len(t, f.Observations, 1)
	assert.Equal(t, 4, f.Observations[0].ID)
	assert.Equal(t, r2.Vec{Y: 1}, f.Observations[0].Start)
	assert.Equal(t, r2.Vec{X: 2, Y: 3}, f.Observations[0].End)
}

func TestParseRawImage(t *testing.T) {
	img, err := ParseRawImage([]byte(`{"header":{"stamp":1,"seq":2},"width":2,"height":1,"encoding":"mono8","data":"AQI="}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, img.Data)
	assert.Equal(t, "mono8", img.Encoding)

	_, err = ParseRawImage([]byte(`{"width":0,"height":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSubscriber_RoutesTopicsToSink(t *testing.T) {
	client := &fakeClient{}
	sink := &recordingSink{}
	topics := DefaultTopics()
	sub := NewSubscriber(client, sink, topics, 0)
	require.NoError(t, sub.Start())
	require.Len(t, client.handlers, 4)

	client.deliver(topics.Inertial, `{"stamp":0.1,"accel":[0,0,9.81],"gyro":[0,0,0]}`)
	client.deliver(topics.Points, `{"header":{"stamp":0.1},"points":[{"id":2,"x":0,"y":0,"z":1}]}`)
	client.deliver(topics.Lines, `{"header":{"stamp":0.1},"lines":[]}`)
	client.deliver(topics.Images, `{"header":{"stamp":0.1},"width":1,"height":1,"data":"AA=="}`)
	client.deliver(topics.Inertial, `not json`)

	assert.Len(t, sink.inertial, 1)
	assert.Len(t, sink.points, 1)
	assert.Len(t, sink.lines, 1)
	assert.Len(t, sink.images, 1)
	assert.Equal(t, Stats{Received: 5, Malformed: 1}, sub.Stats())

	sub.Stop()
	assert.ElementsMatch(t, []string{topics.Inertial, topics.Points, topics.Lines, topics.Images}, client.unsubscribed)
}

func TestSubscriber_StartFailsOnSubscribeError(t *testing.T) {
	topics := DefaultTopics()
	client := &fakeClient{failTopic: topics.Lines}
	sub := NewSubscriber(client, &recordingSink{}, topics, 1)
	err := sub.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), topics.Lines)
}

func TestSubscriber_SkipsEmptyTopicsAndRejectsUnknown(t *testing.T) {
	client := &fakeClient{}
	sub := NewSubscriber(client, &recordingSink{}, Topics{Inertial: "imu"}, 0)
	require.NoError(t, sub.Start())
	assert.Len(t, client.handlers, 1)

	assert.Error(t, sub.Handle("other", []byte(`{}`)))
}
