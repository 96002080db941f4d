// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env       string `mapstructure:"env"`
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	ReadDeadlineSeconds  int   `mapstructure:"read_deadline_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	TypingWindowSeconds  int   `mapstructure:"typing_window_seconds"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLMinutes int    `mapstructure:"presence_ttl_minutes"`
}

type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	WS    WSConfig    `mapstructure:"ws"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`

	// derived timeouts
	PingInterval  time.Duration
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
	TypingWindow  time.Duration
	PresenceTTL   time.Duration
}

// Load reads the config file at path, applies env overrides and defaults,
// and derives the duration fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.App.JWTSecret == "" {
		return nil, fmt.Errorf("config: app.jwt_secret is required")
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.ReadDeadlineSeconds == 0 {
		c.WS.ReadDeadlineSeconds = 60
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.TypingWindowSeconds == 0 {
		c.WS.TypingWindowSeconds = 2
	}
	if c.Redis.PresenceTTLMinutes == 0 {
		c.Redis.PresenceTTLMinutes = 60
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.ReadDeadline = time.Duration(c.WS.ReadDeadlineSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.TypingWindow = time.Duration(c.WS.TypingWindowSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLMinutes) * time.Minute
	return &c, nil
}

// IsDevelopment reports whether the app runs in a dev environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "" || c.App.Env == "dev" || c.App.Env == "development"
}
