package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "500ms" or "20s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"20s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the datalogger daemon.
// This mirrors config/config.yaml.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Database   DatabaseConfig   `yaml:"database"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prune      PruneConfig      `yaml:"prune"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ConnectionConfig struct {
	// Port is the serial device to use. Empty means scan and take the
	// first ttyUSB/ttyACM hit.
	Port         string   `yaml:"port"`
	BaudRate     int      `yaml:"baud_rate"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	// Commands restricts which telemetry commands get watched. Empty
	// means every command the ECU supports.
	Commands []string `yaml:"commands"`
}

type LoggingConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
	QueueSize       int      `yaml:"queue_size"`
	DedupTTL        Duration `yaml:"dedup_ttl"`
}

type PruneConfig struct {
	Days int `yaml:"days"`
}

// Load reads and validates the YAML config at path, applying defaults for
// anything unset.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if cfg.Database.Path == "" {
		return Config{}, fmt.Errorf("database.path must be set")
	}
	return cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	cfg := Config{Database: DatabaseConfig{Path: "vehicle_data.db"}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Connection.BaudRate <= 0 {
		c.Connection.BaudRate = 38400
	}
	if c.Connection.Timeout <= 0 {
		c.Connection.Timeout = Duration(20 * time.Second)
	}
	if c.Connection.PollInterval <= 0 {
		c.Connection.PollInterval = Duration(500 * time.Millisecond)
	}
	if c.Logging.RefreshInterval <= 0 {
		c.Logging.RefreshInterval = Duration(2 * time.Second)
	}
	if c.Logging.QueueSize <= 0 {
		c.Logging.QueueSize = 1000
	}
	if c.Logging.DedupTTL <= 0 {
		c.Logging.DedupTTL = Duration(time.Hour)
	}
	if c.Prune.Days <= 0 {
		c.Prune.Days = 30
	}
}
