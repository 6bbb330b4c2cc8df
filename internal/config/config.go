// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DownloadsConfig sets the download defaults applied when a request omits a
// field.
type DownloadsConfig struct {
	Dir            string `mapstructure:"dir"`
	QualityDefault string `mapstructure:"quality_default"`
	NameTemplate   string `mapstructure:"name_template"`
}

// JobsConfig governs the job registry and stream behavior.
type JobsConfig struct {
	ChannelCapacity  int `mapstructure:"channel_capacity"`
	KeepAliveSeconds int `mapstructure:"keepalive_seconds"`
	SweepMinutes     int `mapstructure:"sweep_minutes"`
	TTLMinutes       int `mapstructure:"ttl_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("downloads.dir", "./downloads")
	v.SetDefault("downloads.quality_default", "best")
	v.SetDefault("downloads.name_template", "%(playlist_index)02d - %(title)s.%(ext)s")
	v.SetDefault("jobs.channel_capacity", 10000)
	v.SetDefault("jobs.keepalive_seconds", 15)
	v.SetDefault("jobs.sweep_minutes", 10)
	v.SetDefault("jobs.ttl_minutes", 240)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Downloads.Dir == "" {
		return fmt.Errorf("downloads.dir must be set")
	}
	if c.Jobs.ChannelCapacity <= 0 {
		return fmt.Errorf("jobs.channel_capacity must be > 0")
	}
	if c.Jobs.KeepAliveSeconds <= 0 {
		return fmt.Errorf("jobs.keepalive_seconds must be > 0")
	}
	if c.Jobs.SweepMinutes <= 0 || c.Jobs.TTLMinutes <= 0 {
		return fmt.Errorf("jobs.sweep_minutes and jobs.ttl_minutes must be > 0")
	}
	return nil
}

// KeepAlive returns the stream keep-alive interval as a duration.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.Jobs.KeepAliveSeconds) * time.Second
}

// SweepInterval returns the sweeper wake-up interval.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepMinutes) * time.Minute
}

// JobTTL returns how long an unobserved job may stay registered.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLMinutes) * time.Minute
}
