package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/camplus/gallery"
)

// Config is the top-level camplusd configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	Album    string `yaml:"album"`

	Render      RenderConfig      `yaml:"render"`
	Capture     CaptureConfig     `yaml:"capture"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Retry       RetryConfig       `yaml:"retry"`
	Retention   RetentionConfig   `yaml:"retention"`
}

// RenderConfig controls the offscreen compositor.
type RenderConfig struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	SettleFrames int           `yaml:"settle_frames"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// CaptureConfig controls frame capture encoding.
type CaptureConfig struct {
	Format  string `yaml:"format"` // jpg | png
	Quality int    `yaml:"quality"`
}

// PermissionsConfig is the static media-library grant used by the directory
// gallery. Real deployments replace it with a platform permission bridge.
type PermissionsConfig struct {
	CanRead  *bool `yaml:"can_read"`
	CanWrite *bool `yaml:"can_write"`
}

// RetryConfig controls the gallery-write retry worker.
type RetryConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// RetentionConfig controls observability table cleanup.
type RetentionConfig struct {
	EventsDays     int `yaml:"events_days"`
	HeartbeatsDays int `yaml:"heartbeats_days"`
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8474"
	}
	if c.DataDir == "" {
		c.DataDir = "camplus-data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Album == "" {
		c.Album = gallery.DefaultAlbum
	}
	if c.Render.Width <= 0 {
		c.Render.Width = 1080
	}
	if c.Render.Height <= 0 {
		c.Render.Height = 1440
	}
	if c.Capture.Format == "" {
		c.Capture.Format = "jpg"
	}
	if c.Retention.EventsDays <= 0 {
		c.Retention.EventsDays = 30
	}
	if c.Retention.HeartbeatsDays <= 0 {
		c.Retention.HeartbeatsDays = 7
	}
}

func (c *Config) perm() gallery.Perm {
	p := gallery.Perm{CanRead: true, CanWrite: true}
	if c.Permissions.CanRead != nil {
		p.CanRead = *c.Permissions.CanRead
	}
	if c.Permissions.CanWrite != nil {
		p.CanWrite = *c.Permissions.CanWrite
	}
	return p
}
