package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// CaptureConfig describes the local capture handle.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	ReadTimeout string `yaml:"read_timeout"`
}

// StatsConfig sizes the throughput series and optionally installs a
// statistics filter at startup.
type StatsConfig struct {
	BucketWidth string `yaml:"bucket_width"`
	Retention   int    `yaml:"retention"`
	Filter      string `yaml:"filter"`
}

// ListConfig sizes the recent-packet display list.
type ListConfig struct {
	Capacity int    `yaml:"capacity"`
	Filter   string `yaml:"filter"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NATSConfig configures the probe frame stream.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration for both binaries.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Stats   StatsConfig   `yaml:"stats"`
	List    ListConfig    `yaml:"list"`
	API     APIConfig     `yaml:"api"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Capture.SnapshotLen == 0 {
		c.Capture.SnapshotLen = 1600
	}
	if c.Capture.ReadTimeout == "" {
		c.Capture.ReadTimeout = "500ms"
	}
	if c.Stats.BucketWidth == "" {
		c.Stats.BucketWidth = "1s"
	}
	if c.Stats.Retention == 0 {
		c.Stats.Retention = 300
	}
	if c.List.Capacity == 0 {
		c.List.Capacity = 1000
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "packetscope.frames"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Stats,
		validation.Field(&c.Stats.Retention, validation.Required, validation.Min(1)),
		validation.Field(&c.Stats.BucketWidth, validation.Required, validation.By(validDuration)),
	); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if err := validation.ValidateStruct(&c.Capture,
		validation.Field(&c.Capture.SnapshotLen, validation.Required, validation.Min(64)),
		validation.Field(&c.Capture.ReadTimeout, validation.Required, validation.By(validDuration)),
	); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validation.ValidateStruct(&c.List,
		validation.Field(&c.List.Capacity, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func validDuration(value interface{}) error {
	s, _ := value.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration: %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %q", s)
	}
	return nil
}

// BucketWidthDuration returns the parsed bucket width. Validate has
// already checked the string.
func (c *StatsConfig) BucketWidthDuration() time.Duration {
	d, _ := time.ParseDuration(c.BucketWidth)
	return d
}

// ReadTimeoutDuration returns the parsed capture read timeout.
func (c *CaptureConfig) ReadTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	return d
}
