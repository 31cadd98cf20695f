package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/vio-frontend/internal/vio"
)

// MQTTClient is the subset of mqtt.Client used by the forwarder.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTForwarderConfig holds forwarder settings.
type MQTTForwarderConfig struct {
	// Prefix is prepended to each output topic, e.g. "vio/out".
	Prefix         string
	QoS            byte
	Topics         []string // empty forwards every topic
	PublishTimeout time.Duration
	Buffer         int
}

// MQTTForwarder republishes hub messages as JSON on an MQTT broker.
type MQTTForwarder struct {
	cfg    MQTTForwarderConfig
	client MQTTClient
	hub    *Hub

	forwarded atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTForwarder creates a forwarder publishing through client.
func NewMQTTForwarder(cfg MQTTForwarderConfig, client MQTTClient, hub *Hub) *MQTTForwarder {
	if cfg.Prefix == "" {
		cfg.Prefix = "vio/out"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTTForwarder{cfg: cfg, client: client, hub: hub}
}

// ConnectMQTT dials broker and waits for the connection.
func ConnectMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		vio.Opsf("mqtt connection to %s lost, reconnecting: %v", broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", broker, err)
	}
	vio.Opsf("connected to mqtt broker %s as %s", broker, clientID)
	return client, nil
}

// Run forwards messages until ctx is cancelled or the hub stops.
func (f *MQTTForwarder) Run(ctx context.Context) error {
	id, ch := f.hub.Subscribe(f.cfg.Buffer, f.cfg.Topics...)
	defer f.hub.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			vio.Diagf("mqtt forwarder stopped: forwarded=%d failed=%d", f.forwarded.Load(), f.failed.Load())
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.forward(msg); err != nil {
				f.failed.Add(1)
				vio.Opsf("mqtt forward %s: %v", msg.Topic, err)
				continue
			}
			f.forwarded.Add(1)
		}
	}
}

func (f *MQTTForwarder) forward(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	token := f.client.Publish(f.cfg.Prefix+"/"+msg.Topic, f.cfg.QoS, false, payload)
	if !token.WaitTimeout(f.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Forwarded returns the number of messages published to the broker.
func (f *MQTTForwarder) Forwarded() uint64 { return f.forwarded.Load() }

// Failed returns the number of messages that could not be published.
func (f *MQTTForwarder) Failed() uint64 { return f.failed.Load() }
