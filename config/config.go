// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// LocationConfig pins a fixed device coordinate when no live source is
// available. All three fields are used together.
type LocationConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Lat     float64 `mapstructure:"lat"`
	Lon     float64 `mapstructure:"lon"`
	Acc     float64 `mapstructure:"acc"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel    string         `mapstructure:"logLevel"`
	ListenAddr  string         `mapstructure:"listenAddr"`
	DataDir     string         `mapstructure:"dataDir"`
	Adapter     string         `mapstructure:"adapter"`
	DeviceName  string         `mapstructure:"deviceName"`
	ScanSeconds int            `mapstructure:"scanSeconds"`
	ChunkSize   int            `mapstructure:"chunkSize"`
	Location    LocationConfig `mapstructure:"location"`
}

// Validate checks the configuration before the daemon starts.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.DeviceName, validation.Required),
		validation.Field(&c.ScanSeconds, validation.Min(1), validation.Max(300)),
		validation.Field(&c.ChunkSize, validation.Min(20), validation.Max(512)),
	)
}

// IdentityPath is where the per-installation identity lives.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.DataDir, "identity")
}

// MarkerDBPath is where the persistent marker store lives.
func (c *Config) MarkerDBPath() string {
	return filepath.Join(c.DataDir, "markers.db")
}

// Load reads configuration from the optional file at path, applying
// defaults for anything unset. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("logLevel", "info")
	v.SetDefault("listenAddr", ":8090")
	v.SetDefault("dataDir", "/var/lib/dis4sterd")
	v.SetDefault("adapter", "hci0")
	v.SetDefault("deviceName", "Dis4sterShr3k")
	v.SetDefault("scanSeconds", 12)
	v.SetDefault("chunkSize", 180)
	v.SetDefault("location.enabled", false)
	v.SetDefault("location.lat", 0.0)
	v.SetDefault("location.lon", 0.0)
	v.SetDefault("location.acc", 0.0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
