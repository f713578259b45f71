package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.True(t, cfg.Auth.ExposeResetToken)
	assert.False(t, cfg.Auth.ResetRevokesSessions)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("JWT_EXPIRE", "15m")
	t.Setenv("JWT_REFRESH_EXPIRE", "2d")
	t.Setenv("BCRYPT_ROUNDS", "10")
	t.Setenv("DB_DRIVER", "Mongo")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("AUTH_EXPOSE_RESET_TOKEN", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, DriverMongo, cfg.Database.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.MQ.Kafka.Brokers)
	assert.False(t, cfg.Auth.ExposeResetToken)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("JWT_EXPIRE", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_EXPIRE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: DriverMemory},
			Auth: AuthConfig{
				AccessSecret:  "a",
				RefreshSecret: "b",
				AccessTTL:     time.Hour,
				RefreshTTL:    time.Hour,
				ResetTokenTTL: time.Minute,
				BcryptCost:    12,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing access secret", mutate: func(c *Config) { c.Auth.AccessSecret = "" }, wantErr: "JWT_SECRET is required"},
		{name: "missing refresh secret", mutate: func(c *Config) { c.Auth.RefreshSecret = "" }, wantErr: "JWT_REFRESH_SECRET is required"},
		{name: "shared secret", mutate: func(c *Config) { c.Auth.RefreshSecret = "a" }, wantErr: "must differ"},
		{name: "bcrypt cost", mutate: func(c *Config) { c.Auth.BcryptCost = 2 }, wantErr: "BCRYPT_ROUNDS"},
		{name: "driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "DB_DRIVER"},
		{name: "storage", mutate: func(c *Config) { c.Storage.Backend = "ftp" }, wantErr: "STORAGE_BACKEND"},
		{name: "mq", mutate: func(c *Config) { c.MQ.Backend = "nats" }, wantErr: "MQ_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("7d")
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, d)

	d, err = parseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDuration("xd")
	require.Error(t, err)
}
