package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionMode controls whether orders are delayed for review or fired immediately.
type ExecutionMode string

const (
	ModeSafe ExecutionMode = "safe"
	ModeFull ExecutionMode = "full"
)

// Config is the root application configuration tree.
type Config struct {
	Server   ServerSection   `yaml:"server"`
	Database DatabaseSection `yaml:"database"`
	Redis    RedisSection    `yaml:"redis"`
	Engine   EngineSection   `yaml:"engine"`
	Broker   BrokerSection   `yaml:"broker"`
	Notify   NotifySection   `yaml:"notify"`
}

// ServerSection holds the webhook HTTP server settings.
type ServerSection struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseSection holds Postgres connection settings.
type DatabaseSection struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// RedisSection holds the optional shared lock store settings.
// When Addr is empty the engine uses the in-process lock store.
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineSection holds the signal-processing policy knobs.
type EngineSection struct {
	Mode             ExecutionMode `yaml:"mode"`               // safe | full
	DefaultDelayBars int           `yaml:"default_delay_bars"` // ORDER delay in bars
	BarMinutes       int           `yaml:"bar_minutes"`        // bar duration for delay math
	ExitDelaySeconds int           `yaml:"exit_delay_seconds"` // EXIT delay; 0 = immediate
	IntentExpiry     time.Duration `yaml:"intent_expiry"`      // review window for intents
	AutoLinkWindow   time.Duration `yaml:"auto_link_window"`   // unlinked execution lookback
	CloseCooldown    time.Duration `yaml:"close_cooldown"`     // re-entry block after a close
	WallLockTTL      time.Duration `yaml:"wall_lock_ttl"`
	OrderLockTTL     time.Duration `yaml:"order_lock_ttl"`
	CloseLockTTL     time.Duration `yaml:"close_lock_ttl"`
	SchedulerPoll    time.Duration `yaml:"scheduler_poll"`
}

// BrokerSection holds the outbound broker forwarder settings.
type BrokerSection struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
	BreakerName    string        `yaml:"breaker_name"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// NotifySection holds the fan-out notification channel settings.
type NotifySection struct {
	WebhookURL    string        `yaml:"webhook_url"` // empty disables the channel
	Timeout       time.Duration `yaml:"timeout"`
	EnableLog     bool          `yaml:"enable_log"`
	EnableSocket  bool          `yaml:"enable_socket"`
	SocketBacklog int           `yaml:"socket_backlog"`
}

// Load reads configuration from a YAML file, applies environment
// variable overrides, then fills defaults. A missing file is not an
// error; the defaults alone form a working dev configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	// Zero is a valid exit delay (immediate execution), so "unset"
	// needs a sentinel the YAML decoder only overwrites when the key
	// is present.
	cfg.Engine.ExitDelaySeconds = -1

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Engine.Mode != ModeSafe && cfg.Engine.Mode != ModeFull {
		return nil, fmt.Errorf("invalid execution mode %q: must be safe or full", cfg.Engine.Mode)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADEGATE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TRADEGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRADEGATE_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("TRADEGATE_BROKER_TOKEN"); v != "" {
		cfg.Broker.Token = v
	}
	if v := os.Getenv("TRADEGATE_MODE"); v != "" {
		cfg.Engine.Mode = ExecutionMode(v)
	}
	if v := os.Getenv("TRADEGATE_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 5 * time.Second
	}

	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = ModeSafe
	}
	if cfg.Engine.DefaultDelayBars == 0 {
		cfg.Engine.DefaultDelayBars = 2
	}
	if cfg.Engine.BarMinutes == 0 {
		cfg.Engine.BarMinutes = 5
	}
	if cfg.Engine.ExitDelaySeconds < 0 {
		cfg.Engine.ExitDelaySeconds = 10
	}
	if cfg.Engine.IntentExpiry == 0 {
		cfg.Engine.IntentExpiry = 24 * time.Hour
	}
	if cfg.Engine.AutoLinkWindow == 0 {
		cfg.Engine.AutoLinkWindow = time.Hour
	}
	if cfg.Engine.CloseCooldown == 0 {
		cfg.Engine.CloseCooldown = 5 * time.Minute
	}
	if cfg.Engine.WallLockTTL == 0 {
		cfg.Engine.WallLockTTL = 3 * time.Second
	}
	if cfg.Engine.OrderLockTTL == 0 {
		cfg.Engine.OrderLockTTL = 3 * time.Second
	}
	if cfg.Engine.CloseLockTTL == 0 {
		cfg.Engine.CloseLockTTL = 5 * time.Second
	}
	if cfg.Engine.SchedulerPoll == 0 {
		cfg.Engine.SchedulerPoll = 5 * time.Second
	}

	if cfg.Broker.Timeout == 0 {
		cfg.Broker.Timeout = 10 * time.Second
	}
	if cfg.Broker.RatePerSecond == 0 {
		cfg.Broker.RatePerSecond = 5
	}
	if cfg.Broker.RateBurst == 0 {
		cfg.Broker.RateBurst = 10
	}
	if cfg.Broker.BreakerName == "" {
		cfg.Broker.BreakerName = "broker"
	}
	if cfg.Broker.BreakerTimeout == 0 {
		cfg.Broker.BreakerTimeout = 60 * time.Second
	}

	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 5 * time.Second
	}
	if cfg.Notify.SocketBacklog == 0 {
		cfg.Notify.SocketBacklog = 64
	}
}
