package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	OrderLog    OrderLogConfig    `yaml:"orderlog"`
	Market      MarketConfig      `yaml:"market"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type SessionConfig struct {
	Secret            string `yaml:"secret"`
	SuspendTTLSeconds int    `yaml:"suspend_ttl_seconds"`
}

// SuspendTTL returns the resume window as a duration.
func (s SessionConfig) SuspendTTL() time.Duration {
	return time.Duration(s.SuspendTTLSeconds) * time.Second
}

type IdempotencyConfig struct {
	// Backend is "memory" or "redis".
	Backend    string      `yaml:"backend"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// TTL returns the cache TTL as a duration.
func (i IdempotencyConfig) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type OrderLogConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type MarketConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

// TickInterval returns the simulator tick period.
func (m MarketConfig) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalMs) * time.Millisecond
}

type AlertsConfig struct {
	EvaluateIntervalSeconds int `yaml:"evaluate_interval_seconds"`
}

// EvaluateInterval returns the periodic alert evaluation period.
func (a AlertsConfig) EvaluateInterval() time.Duration {
	return time.Duration(a.EvaluateIntervalSeconds) * time.Second
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server:      ServerConfig{Host: "0.0.0.0", Port: "8082", Env: "dev"},
		Session:     SessionConfig{Secret: "dev-jwt-secret", SuspendTTLSeconds: 30},
		Idempotency: IdempotencyConfig{Backend: "memory", TTLSeconds: 300},
		OrderLog:    OrderLogConfig{Backend: "memory"},
		Market:      MarketConfig{TickIntervalMs: 1000},
		Alerts:      AlertsConfig{EvaluateIntervalSeconds: 5},
	}
}

// LoadConfig reads a YAML config file. Unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
