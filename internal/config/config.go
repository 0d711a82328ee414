package config

import (
	"fmt"
	"time"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	StoreBackend string `mapstructure:"store_backend" yaml:"store_backend"`
	RedisURL     string `mapstructure:"redis_url" yaml:"redis_url"`

	// JWTSecret enables bearer token identity; empty trusts identity headers.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	// AdminUsers may trigger sweeps over HTTP; empty disables those endpoints.
	AdminUsers []string `mapstructure:"admin_users" yaml:"admin_users"`

	MessageLifetime time.Duration `mapstructure:"message_lifetime" yaml:"message_lifetime"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SweepWorkers    int           `mapstructure:"sweep_workers" yaml:"sweep_workers"`
	PendingTimeout  time.Duration `mapstructure:"pending_timeout" yaml:"pending_timeout"`
	DedupBucket     time.Duration `mapstructure:"dedup_bucket" yaml:"dedup_bucket"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	WSMessageRate   int           `mapstructure:"ws_message_rate" yaml:"ws_message_rate"` // per connection per minute, 0 disables
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "trekchat.db",
		StoreBackend:      BackendSQLite,
		RedisURL:          "redis://localhost:6379/0",
		AdminUsers:        []string{},
		MessageLifetime:   8 * time.Hour,
		SweepInterval:     time.Hour,
		SweepWorkers:      4,
		PendingTimeout:    30 * time.Second,
		DedupBucket:       10 * time.Second,
		MaxMessageBytes:   4096,
		WSMessageRate:     60,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.StoreBackend != "" {
		c.StoreBackend = other.StoreBackend
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if len(other.AdminUsers) > 0 {
		c.AdminUsers = other.AdminUsers
	}
	if other.MessageLifetime != 0 {
		c.MessageLifetime = other.MessageLifetime
	}
	if other.SweepInterval != 0 {
		c.SweepInterval = other.SweepInterval
	}
	if other.SweepWorkers != 0 {
		c.SweepWorkers = other.SweepWorkers
	}
	if other.PendingTimeout != 0 {
		c.PendingTimeout = other.PendingTimeout
	}
	if other.DedupBucket != 0 {
		c.DedupBucket = other.DedupBucket
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.WSMessageRate != 0 {
		c.WSMessageRate = other.WSMessageRate
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown store_backend %q", c.StoreBackend)
	}
	if c.StoreBackend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("redis_url is required for the redis backend")
	}
	if c.MessageLifetime <= 0 {
		return fmt.Errorf("message_lifetime must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("sweep_workers must be positive")
	}
	return nil
}
