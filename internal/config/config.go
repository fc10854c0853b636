package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ForgeConfig is the forge.yaml service configuration. Fields tagged
// with env are overridden by the environment after the file is read.
type ForgeConfig struct {
	Version int           `yaml:"version"`
	Service ServiceConfig `yaml:"service"`
	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServiceConfig struct {
	Name string `yaml:"name" env:"FORGE_SERVICE_NAME"`
}

type NetworkConfig struct {
	HTTPPort int `yaml:"http_port" env:"FORGE_HTTP_PORT"`
}

// StorageConfig selects where graphs and events live. GraphDir is only
// read when Driver is none.
type StorageConfig struct {
	Driver   string `yaml:"driver" env:"FORGE_STORAGE_DRIVER"`
	DSN      string `yaml:"dsn" env:"FORGE_STORAGE_DSN"`
	GraphDir string `yaml:"graph_dir" env:"FORGE_GRAPH_DIR"`
}

// MQTTConfig is empty-URL disabled.
type MQTTConfig struct {
	URL          string `yaml:"url" env:"FORGE_MQTT_URL"`
	FrameTopic   string `yaml:"frame_topic" env:"FORGE_MQTT_FRAME_TOPIC"`
	CommandTopic string `yaml:"command_topic" env:"FORGE_MQTT_COMMAND_TOPIC"`
	ClientID     string `yaml:"client_id" env:"FORGE_MQTT_CLIENT_ID"`
}

type EngineConfig struct {
	MaxSteps int `yaml:"max_steps" env:"FORGE_MAX_STEPS"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"FORGE_LOG_LEVEL"`
	Format string `yaml:"format" env:"FORGE_LOG_FORMAT"`
}

// Default returns the configuration used when no file is given.
func Default() *ForgeConfig {
	cfg := &ForgeConfig{Version: 1}
	cfg.fill()
	return cfg
}

// fill sets defaults on zero fields.
func (c *ForgeConfig) fill() {
	if c.Service.Name == "" {
		c.Service.Name = "narrativeforge"
	}
	if c.Network.HTTPPort == 0 {
		c.Network.HTTPPort = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverNone
	}
	if c.MQTT.FrameTopic == "" {
		c.MQTT.FrameTopic = "forge/frames"
	}
	if c.MQTT.CommandTopic == "" {
		c.MQTT.CommandTopic = "forge/commands"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Service.Name
	}
	if c.Engine.MaxSteps == 0 {
		c.Engine.MaxSteps = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// LoadForgeConfig reads path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
func LoadForgeConfig(path string) (*ForgeConfig, error) {
	cfg := &ForgeConfig{Version: 1}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported forge.yaml version: %d", cfg.Version)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.fill()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields and required combinations.
func (c *ForgeConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverNone, DriverPostgres:
	case DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	if c.Network.HTTPPort < 0 || c.Network.HTTPPort > 65535 {
		return fmt.Errorf("network.http_port out of range: %d", c.Network.HTTPPort)
	}
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine.max_steps must not be negative")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *ForgeConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Network.HTTPPort)
}
