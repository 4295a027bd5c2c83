package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Channel  ChannelConfig  `koanf:"channel"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Bond     BondConfig     `koanf:"bond"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ChannelConfig drives the event channel client.
type ChannelConfig struct {
	URL              string        `koanf:"url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	PongTimeout      time.Duration `koanf:"pong_timeout"`
	ReconnectMin     time.Duration `koanf:"reconnect_min"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`
	SendBufferSize   int           `koanf:"send_buffer_size"`
}

// RealtimeConfig tunes the throttle ledger and projections.
type RealtimeConfig struct {
	ThrottleInterval time.Duration `koanf:"throttle_interval"`
}

// BondConfig carries the bond policy knobs: per-incident-type deduction
// amounts, which severities carry a monetary consequence, the lockdown
// grace window, and the burn-alert sensitivity.
type BondConfig struct {
	Currency          string             `koanf:"currency"`
	DefaultRequired   float64            `koanf:"default_required"`
	DeductionAmounts  map[string]float64 `koanf:"deduction_amounts"`
	DeductSeverities  []string           `koanf:"deduct_severities"`
	LockdownGrace     time.Duration      `koanf:"lockdown_grace"`
	BurnAlertWindow   time.Duration      `koanf:"burn_alert_window"`
	BurnAlertFraction float64            `koanf:"burn_alert_fraction"`
}

type SecurityConfig struct {
	JWTSecret string          `koanf:"jwt_secret"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Channel: ChannelConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			PongTimeout:      60 * time.Second,
			ReconnectMin:     time.Second,
			ReconnectMax:     30 * time.Second,
			SendBufferSize:   256,
		},
		Realtime: RealtimeConfig{
			ThrottleInterval: 500 * time.Millisecond,
		},
		Bond: BondConfig{
			Currency:        "USD",
			DefaultRequired: 1000,
			DeductionAmounts: map[string]float64{
				"accident":          200,
				"safety_violation":  150,
				"driver_misconduct": 100,
				"policy_violation":  75,
				"fraud":             300,
			},
			DeductSeverities:  []string{"high", "critical"},
			LockdownGrace:     72 * time.Hour,
			BurnAlertWindow:   7 * 24 * time.Hour,
			BurnAlertFraction: 0.25,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// Config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("FLEETDESK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FLEETDESK_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
