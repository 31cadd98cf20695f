// Package config loads the front-end configuration from JSON. Every field
// is optional; the Get* accessors supply defaults for omitted keys.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vio-frontend/internal/serialmux"
	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/transport/mqttin"
)

// DefaultConfigPath is the canonical defaults file.
const DefaultConfigPath = "config/vio.defaults.json"

// Config is the root configuration.
type Config struct {
	CameraCount *int        `json:"camera_count,omitempty"`
	Gravity     *[3]float64 `json:"gravity,omitempty"`

	// Ingest buffers
	BufferCapacity   *int    `json:"buffer_capacity,omitempty"`
	OverflowPolicy   *string `json:"overflow_policy,omitempty"`
	LoopClosure      *bool   `json:"loop_closure,omitempty"`
	RawImageCapacity *int    `json:"raw_image_capacity,omitempty"`

	// Reference back end
	SolveAfterFrames *int     `json:"solve_after_frames,omitempty"`
	WindowSize       *int     `json:"window_size,omitempty"`
	FeatureDepth     *float64 `json:"feature_depth,omitempty"`

	// Output fan-out
	HubQueueSize     *int    `json:"hub_queue_size,omitempty"`
	HubClientBuffer  *int    `json:"hub_client_buffer,omitempty"`
	HubStatsInterval *string `json:"hub_stats_interval,omitempty"` // duration string like "5s"
	GRPCListen       *string `json:"grpc_listen,omitempty"`
	HTTPListen       *string `json:"http_listen,omitempty"`
	TrajectoryDB     *string `json:"trajectory_db,omitempty"` // empty disables recording

	MQTT   *MQTTConfig   `json:"mqtt,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`
}

// MQTTConfig configures the MQTT ingest and output forwarder. An empty
// broker disables both.
type MQTTConfig struct {
	Broker        string         `json:"broker"`
	ClientID      string         `json:"client_id"`
	QoS           byte           `json:"qos"`
	InputTopics   *mqttin.Topics `json:"input_topics,omitempty"`
	OutputPrefix  string         `json:"output_prefix"`
	ForwardTopics []string       `json:"forward_topics,omitempty"`
}

// SerialConfig configures a serial inertial unit. An empty path disables it.
type SerialConfig struct {
	Path         string                `json:"path"`
	Options      serialmux.PortOptions `json:"options"`
	InitCommands []string              `json:"init_commands,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// Load reads a Config from a JSON file, checking its extension and size,
// then validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics when the file is missing; tests use it.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.CameraCount != nil && *c.CameraCount <= 0 {
		return fmt.Errorf("camera_count must be positive, got %d", *c.CameraCount)
	}
	if c.BufferCapacity != nil && *c.BufferCapacity < 0 {
		return fmt.Errorf("buffer_capacity must not be negative, got %d", *c.BufferCapacity)
	}
	if c.OverflowPolicy != nil {
		if _, err := ingest.ParseOverflowPolicy(*c.OverflowPolicy); err != nil {
			return err
		}
	}
	if c.RawImageCapacity != nil && *c.RawImageCapacity < 0 {
		return fmt.Errorf("raw_image_capacity must not be negative, got %d", *c.RawImageCapacity)
	}
	if c.SolveAfterFrames != nil && *c.SolveAfterFrames <= 0 {
		return fmt.Errorf("solve_after_frames must be positive, got %d", *c.SolveAfterFrames)
	}
	if c.WindowSize != nil && *c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}
	if c.FeatureDepth != nil && *c.FeatureDepth <= 0 {
		return fmt.Errorf("feature_depth must be positive, got %f", *c.FeatureDepth)
	}
	if c.HubStatsInterval != nil && *c.HubStatsInterval != "" {
		if _, err := time.ParseDuration(*c.HubStatsInterval); err != nil {
			return fmt.Errorf("invalid hub_stats_interval '%s': %w", *c.HubStatsInterval, err)
		}
	}
	if c.MQTT != nil && c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Serial != nil && c.Serial.Path != "" {
		if _, err := c.Serial.Options.Normalise(); err != nil {
			return fmt.Errorf("serial options: %w", err)
		}
	}
	return nil
}

// GetCameraCount returns camera_count, default 1.
func (c *Config) GetCameraCount() int {
	if c.CameraCount == nil {
		return 1
	}
	return *c.CameraCount
}

// GetGravity returns the gravity vector, default (0, 0, 9.81).
func (c *Config) GetGravity() r3.Vec {
	if c.Gravity == nil {
		return r3.Vec{Z: 9.81}
	}
	g := *c.Gravity
	return r3.Vec{X: g[0], Y: g[1], Z: g[2]}
}

// GetBufferCapacity returns the per-stream capacity; 0 means unbounded.
func (c *Config) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return ingest.DefaultCapacity
	}
	return *c.BufferCapacity
}

// GetOverflowPolicy returns the parsed overflow policy, default drop-oldest.
func (c *Config) GetOverflowPolicy() ingest.OverflowPolicy {
	if c.OverflowPolicy == nil {
		return ingest.DropOldest
	}
	p, err := ingest.ParseOverflowPolicy(*c.OverflowPolicy)
	if err != nil {
		return ingest.DropOldest
	}
	return p
}

func (c *Config) GetLoopClosure() bool {
	return c.LoopClosure != nil && *c.LoopClosure
}

func (c *Config) GetRawImageCapacity() int {
	if c.RawImageCapacity == nil {
		return 100
	}
	return *c.RawImageCapacity
}

func (c *Config) GetSolveAfterFrames() int {
	if c.SolveAfterFrames == nil {
		return 10
	}
	return *c.SolveAfterFrames
}

func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return 10
	}
	return *c.WindowSize
}

func (c *Config) GetFeatureDepth() float64 {
	if c.FeatureDepth == nil {
		return 5
	}
	return *c.FeatureDepth
}

func (c *Config) GetHubQueueSize() int {
	if c.HubQueueSize == nil {
		return 100
	}
	return *c.HubQueueSize
}

func (c *Config) GetHubClientBuffer() int {
	if c.HubClientBuffer == nil {
		return 10
	}
	return *c.HubClientBuffer
}

// GetHubStatsInterval returns the hub stats period; 0 disables the log line.
func (c *Config) GetHubStatsInterval() time.Duration {
	if c.HubStatsInterval == nil || *c.HubStatsInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.HubStatsInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:50051"
	}
	return *c.GRPCListen
}

func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return "localhost:8090"
	}
	return *c.HTTPListen
}

func (c *Config) GetTrajectoryDB() string {
	if c.TrajectoryDB == nil {
		return ""
	}
	return *c.TrajectoryDB
}

// GetMQTT returns the MQTT settings with defaults, or nil when disabled.
func (c *Config) GetMQTT() *MQTTConfig {
	if c.MQTT == nil || c.MQTT.Broker == "" {
		return nil
	}
	m := *c.MQTT
	if m.ClientID == "" {
		m.ClientID = "vio-frontend"
	}
	if m.InputTopics == nil {
		t := mqttin.DefaultTopics()
		m.InputTopics = &t
	}
	if m.OutputPrefix == "" {
		m.OutputPrefix = "vio/out"
	}
	return &m
}

// GetSerial returns the serial settings, or nil when disabled.
func (c *Config) GetSerial() *SerialConfig {
	if c.Serial == nil || c.Serial.Path == "" {
		return nil
	}
	s := *c.Serial
	return &s
}
