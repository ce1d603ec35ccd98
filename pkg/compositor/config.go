package compositor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/video-system/go-decklink-sync/internal/logging"
	"github.com/video-system/go-decklink-sync/pkg/decklink"
)

// Config holds all compositor configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"` // Generated when empty
	Device     DeviceConfig   `yaml:"device"`
	Tick       TickConfig     `yaml:"tick"`
	API        APIConfig      `yaml:"api"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig `yaml:"influxdb"`
	Logging    logging.Config `yaml:"logging"`
}

// DeviceConfig configures the DeckLink device
type DeviceConfig struct {
	Driver            string  `yaml:"driver"`      // ffmpeg, none
	Name              string  `yaml:"device_name"` // Empty picks the first device
	UseCPU            bool    `yaml:"use_cpu"`
	PassthroughOutput bool    `yaml:"passthrough_output"`
	LatencyPreference float32 `yaml:"latency_preference"` // 0 smoothest .. 1 lowest latency
	FrameHeight       int     `yaml:"frame_height"`       // 0 uses the build default
}

// DecklinkConfig returns the construction flags for the device manager
func (c DeviceConfig) DecklinkConfig() decklink.Config {
	return decklink.Config{
		UseCPU:            c.UseCPU,
		PassthroughOutput: c.PassthroughOutput,
	}
}

// TickConfig configures the compositor frame loop
type TickConfig struct {
	FPS float64 `yaml:"fps"`
}

// Interval returns the time between ticks
func (c TickConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}

// APIConfig configures the status API
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns the listen address
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig configures the state publisher
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// InfluxDBConfig configures timing metrics
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // Milliseconds
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding environment variables
// and applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Driver == "" {
		c.Device.Driver = "ffmpeg"
	}
	if c.Device.FrameHeight == 0 {
		c.Device.FrameHeight = decklink.FrameHeight
	}
	if c.Tick.FPS == 0 {
		c.Tick.FPS = 60
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "video"
	}
	if c.InfluxDB.Bucket == "" {
		c.InfluxDB.Bucket = "decklink"
	}
	if c.InfluxDB.BatchSize == 0 {
		c.InfluxDB.BatchSize = 500
	}
	if c.InfluxDB.FlushInterval == 0 {
		c.InfluxDB.FlushInterval = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Device.LatencyPreference < 0 || c.Device.LatencyPreference > 1 {
		return fmt.Errorf("device.latency_preference must be between 0 and 1, got %v", c.Device.LatencyPreference)
	}
	if c.Device.FrameHeight < 0 {
		return fmt.Errorf("device.frame_height must be positive, got %d", c.Device.FrameHeight)
	}
	if c.Tick.FPS <= 0 || c.Tick.FPS > 240 {
		return fmt.Errorf("tick.fps must be in (0, 240], got %v", c.Tick.FPS)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required when influxdb is enabled")
	}
	return nil
}
