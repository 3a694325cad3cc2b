package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blinds/internal/coordinator"
	goble "github.com/srg/blinds/internal/device/go-ble"
	"github.com/srg/blinds/pkg/blind"
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `yaml:"log_level" default:"4"`
	Address  string       `yaml:"address"`

	ServiceUUID       string `yaml:"service_uuid" default:"346f721a-14f7-4065-8a1f-ad91e35f9bb2"`
	PositionReadUUID  string `yaml:"position_read_uuid" default:"2f6f41e1-66af-4a09-b933-a700ea6f0c52"`
	PositionWriteUUID string `yaml:"position_write_uuid" default:"2f6f41e1-66bf-4a09-b933-a700ea6f0c52"`
	NameUUID          string `yaml:"name_uuid" default:"3cdeb180-ee8d-4e56-874e-afd5c2fa2d67"`

	IdleTimeout       time.Duration `yaml:"idle_timeout" default:"120s"`
	RetryAttempts     int           `yaml:"retry_attempts" default:"3"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" default:"250ms"`
	WriteWithResponse bool          `yaml:"write_with_response" default:"true"`

	ConnectAttempts int           `yaml:"connect_attempts" default:"3"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"20s"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"10s"`

	UpdateInterval time.Duration `yaml:"update_interval" default:"15s"`
	StartupTimeout time.Duration `yaml:"startup_timeout" default:"30s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks UUIDs, counts and durations.
func (c *Config) Validate() error {
	var errs []error

	for name, value := range map[string]string{
		"service_uuid":        c.ServiceUUID,
		"position_read_uuid":  c.PositionReadUUID,
		"position_write_uuid": c.PositionWriteUUID,
	} {
		if _, err := uuid.Parse(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.NameUUID != "" {
		if _, err := uuid.Parse(c.NameUUID); err != nil {
			errs = append(errs, fmt.Errorf("name_uuid: %w", err))
		}
	}

	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("connect_attempts must be at least 1, got %d", c.ConnectAttempts))
	}

	for name, d := range map[string]time.Duration{
		"idle_timeout":    c.IdleTimeout,
		"retry_backoff":   c.RetryBackoff,
		"connect_timeout": c.ConnectTimeout,
		"scan_timeout":    c.ScanTimeout,
		"update_interval": c.UpdateInterval,
		"startup_timeout": c.StartupTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// Profile returns the GATT profile the session resolves.
func (c *Config) Profile() blind.Profile {
	return blind.Profile{
		Service: c.ServiceUUID,
		Read:    c.PositionReadUUID,
		Write:   c.PositionWriteUUID,
		Name:    c.NameUUID,
	}
}

// SessionOptions builds DeviceSession options using logger.
func (c *Config) SessionOptions(logger *logrus.Logger) blind.Options {
	return blind.Options{
		Profile:           c.Profile(),
		IdleTimeout:       c.IdleTimeout,
		Attempts:          c.RetryAttempts,
		Backoff:           c.RetryBackoff,
		WriteWithResponse: c.WriteWithResponse,
		Logger:            logger,
	}
}

// TransportOptions builds go-ble transport options.
func (c *Config) TransportOptions() goble.Options {
	return goble.Options{
		ConnectAttempts: c.ConnectAttempts,
		ConnectTimeout:  c.ConnectTimeout,
		ScanTimeout:     c.ScanTimeout,
	}
}

// CoordinatorOptions builds coordinator options using logger.
func (c *Config) CoordinatorOptions(logger *logrus.Logger) coordinator.Options {
	return coordinator.Options{
		Address:        c.Address,
		UpdateInterval: c.UpdateInterval,
		StartupTimeout: c.StartupTimeout,
		Logger:         logger,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
