package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/pkg/blind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, blind.DefaultServiceUUID, cfg.ServiceUUID)
	assert.Equal(t, blind.DefaultPositionReadUUID, cfg.PositionReadUUID)
	assert.Equal(t, blind.DefaultPositionWriteUUID, cfg.PositionWriteUUID)
	assert.Equal(t, blind.DefaultNameUUID, cfg.NameUUID)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.True(t, cfg.WriteWithResponse)
	assert.Equal(t, 3, cfg.ConnectAttempts)
	assert.Equal(t, 20*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 15*time.Second, cfg.UpdateInterval)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blinds.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
address: aa:bb:cc:dd:ee:ff
idle_timeout: 45s
retry_backoff: 100ms
write_with_response: false
`), 0o600))

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Address)
		assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
		assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
		assert.False(t, cfg.WriteWithResponse)
		assert.Equal(t, 3, cfg.RetryAttempts, "unset keys MUST keep defaults")
		assert.Equal(t, blind.DefaultServiceUUID, cfg.ServiceUUID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("service_uuid: not-a-uuid\nretry_attempts: 0\n"), 0o600))

		_, err := Load(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "service_uuid")
		assert.Contains(t, err.Error(), "retry_attempts")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"optional name uuid may be empty", func(c *Config) { c.NameUUID = "" }, ""},
		{"bad read uuid", func(c *Config) { c.PositionReadUUID = "xyz" }, "position_read_uuid"},
		{"bad name uuid", func(c *Config) { c.NameUUID = "xyz" }, "name_uuid"},
		{"zero connect attempts", func(c *Config) { c.ConnectAttempts = 0 }, "connect_attempts"},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }, "idle_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "AA:BB:CC:DD:EE:FF"
	cfg.RetryAttempts = 5
	logger := cfg.NewLogger()

	session := cfg.SessionOptions(logger)
	assert.Equal(t, cfg.Profile(), session.Profile)
	assert.Equal(t, 5, session.Attempts)
	assert.Equal(t, cfg.RetryBackoff, session.Backoff)
	assert.Same(t, logger, session.Logger)

	transport := cfg.TransportOptions()
	assert.Equal(t, cfg.ConnectTimeout, transport.ConnectTimeout)
	assert.Equal(t, cfg.ScanTimeout, transport.ScanTimeout)

	coord := cfg.CoordinatorOptions(logger)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", coord.Address)
	assert.Equal(t, cfg.UpdateInterval, coord.UpdateInterval)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: logrus.WarnLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
