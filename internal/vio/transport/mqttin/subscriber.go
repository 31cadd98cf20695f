// Package mqttin feeds measurements published on an MQTT broker into the
// estimator front end.
package mqttin

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/measurement"
)

// Sink receives decoded measurements. pipeline.Node implements it.
type Sink interface {
	PushInertial(measurement.InertialSample)
	PushPointFrame(measurement.PointFeatureFrame)
	PushLineFrame(measurement.LineFeatureFrame)
	PushRawImage(measurement.RawImage)
}

// Client is the subset of mqtt.Client used by the Subscriber.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Topics names the inbound topics. An empty topic is not subscribed.
type Topics struct {
	Inertial string `json:"inertial"`
	Points   string `json:"points"`
	Lines    string `json:"lines"`
	Images   string `json:"images"`
}

// DefaultTopics returns the default topic layout.
func DefaultTopics() Topics {
	return Topics{
		Inertial: "vio/in/imu",
		Points:   "vio/in/feature",
		Lines:    "vio/in/linefeature",
		Images:   "vio/in/image",
	}
}

// Stats counts inbound traffic.
type Stats struct {
	Received  uint64
	Malformed uint64
}

// Subscriber decodes JSON measurements from MQTT and pushes them into a Sink.
type Subscriber struct {
	client  Client
	sink    Sink
	topics  Topics
	qos     byte
	timeout time.Duration

	subscribed []string
	received   atomic.Uint64
	malformed  atomic.Uint64
}

// NewSubscriber creates a Subscriber. Call Start to subscribe.
func NewSubscriber(client Client, sink Sink, topics Topics, qos byte) *Subscriber {
	return &Subscriber{
		client:  client,
		sink:    sink,
		topics:  topics,
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

// Start subscribes to every configured topic.
func (s *Subscriber) Start() error {
	for _, topic := range []string{s.topics.Inertial, s.topics.Points, s.topics.Lines, s.topics.Images} {
		if topic == "" {
			continue
		}
		token := s.client.Subscribe(topic, s.qos, s.onMessage)
		if !token.WaitTimeout(s.timeout) {
			return fmt.Errorf("subscribe %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.subscribed = append(s.subscribed, topic)
		vio.Opsf("mqtt: subscribed to %s", topic)
	}
	return nil
}

// Stop unsubscribes from every topic Start subscribed to.
func (s *Subscriber) Stop() {
	if len(s.subscribed) == 0 {
		return
	}
	token := s.client.Unsubscribe(s.subscribed...)
	if token.WaitTimeout(s.timeout) && token.Error() != nil {
		vio.Opsf("mqtt: unsubscribe: %v", token.Error())
	}
	s.subscribed = nil
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.Handle(msg.Topic(), msg.Payload()); err != nil {
		vio.Opsf("mqtt: %s: %v", msg.Topic(), err)
	}
}

// Handle decodes one payload according to its topic. Malformed payloads
// are counted and returned as errors; nothing is pushed for them.
func (s *Subscriber) Handle(topic string, payload []byte) error {
	s.received.Add(1)
	var err error
	switch topic {
	case s.topics.Inertial:
		var m measurement.InertialSample
		if m, err = ParseInertial(payload); err == nil {
			s.sink.PushInertial(m)
		}
	case s.topics.Points:
		var f measurement.PointFeatureFrame
		if f, err = ParsePointFrame(payload); err == nil {
			s.sink.PushPointFrame(f)
		}
	case s.topics.Lines:
		var f measurement.LineFeatureFrame
		if f, err = ParseLineFrame(payload); err == nil {
			s.sink.PushLineFrame(f)
		}
	case s.topics.Images:
		var img measurement.RawImage
		if img, err = ParseRawImage(payload); err == nil {
			s.sink.PushRawImage(img)
		}
	default:
		err = fmt.Errorf("unexpected topic %q", topic)
	}
	if err != nil {
		s.malformed.Add(1)
	}
	return err
}

// Stats returns the traffic counters.
func (s *Subscriber) Stats() Stats {
	return Stats{Received: s.received.Load(), Malformed: s.malformed.Load()}
}
