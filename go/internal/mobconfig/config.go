package mobconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the process configuration, read from mobster.yaml and
// overridden by environment variables.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Mob      MobConfig      `yaml:"mob"`
	NATS     NATSConfig     `yaml:"nats"`
	Presence PresenceConfig `yaml:"presence"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	LogLevel string         `yaml:"log_level"`
}

type SessionConfig struct {
	ID              string `yaml:"id"`
	Role            string `yaml:"role"`
	ParticipantID   string `yaml:"participant_id"`
	ParticipantName string `yaml:"participant_name"`
}

type MobConfig struct {
	IntervalSec    int           `yaml:"interval_sec"`
	ServiceName    string        `yaml:"service_name"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	BindRetry      time.Duration `yaml:"bind_retry"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PeerTTL           time.Duration `yaml:"peer_ttl"`
}

type GatewayConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Session: SessionConfig{
			ID:   "default",
			Role: string(session.RoleNone),
		},
		Mob: MobConfig{
			IntervalSec:    state.DefaultIntervalSec,
			ServiceName:    "mobster",
			ConfirmTimeout: 5 * time.Second,
			BindRetry:      3 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ProbeTimeout:   time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Presence: PresenceConfig{
			HeartbeatInterval: 2 * time.Second,
			PeerTTL:           7 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:           "8081",
			AllowedOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with MOB_*, NATS_URL, GATEWAY_PORT and LOG_LEVEL.
func (c *Config) ApplyEnv() {
	c.Session.ID = getEnv("MOB_SESSION_ID", c.Session.ID)
	c.Session.Role = getEnv("MOB_ROLE", c.Session.Role)
	c.Session.ParticipantID = getEnv("MOB_USER_ID", c.Session.ParticipantID)
	c.Session.ParticipantName = getEnv("MOB_USER_NAME", c.Session.ParticipantName)
	c.Mob.IntervalSec = getEnvAsInt("MOB_INTERVAL_SEC", c.Mob.IntervalSec)
	c.Mob.ConfirmTimeout = getEnvAsDuration("MOB_CONFIRM_TIMEOUT", c.Mob.ConfirmTimeout)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Gateway.Port = getEnv("GATEWAY_PORT", c.Gateway.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks the configuration before anything is started.
func (c Config) Validate() error {
	if c.Session.ID == "" {
		return fmt.Errorf("%w: session.id is required", ErrInvalidConfig)
	}
	role, ok := session.ParseRole(c.Session.Role)
	if !ok {
		return fmt.Errorf("%w: unknown session.role %q", ErrInvalidConfig, c.Session.Role)
	}
	if role != session.RoleNone && c.Session.ParticipantID == "" {
		return fmt.Errorf("%w: session.participant_id is required for role %s", ErrInvalidConfig, role)
	}
	if c.Mob.IntervalSec <= 0 {
		return fmt.Errorf("%w: mob.interval_sec must be positive", ErrInvalidConfig)
	}
	if c.Mob.ServiceName == "" {
		return fmt.Errorf("%w: mob.service_name is required", ErrInvalidConfig)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"mob.confirm_timeout":         c.Mob.ConfirmTimeout,
		"mob.bind_retry":              c.Mob.BindRetry,
		"nats.probe_timeout":          c.NATS.ProbeTimeout,
		"nats.request_timeout":        c.NATS.RequestTimeout,
		"presence.heartbeat_interval": c.Presence.HeartbeatInterval,
		"presence.peer_ttl":           c.Presence.PeerTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.Presence.PeerTTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("%w: presence.peer_ttl must exceed presence.heartbeat_interval", ErrInvalidConfig)
	}
	if c.Gateway.Port == "" {
		return fmt.Errorf("%w: gateway.port is required", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Role returns the configured session role. Call after Validate.
func (c Config) Role() session.Role {
	role, _ := session.ParseRole(c.Session.Role)
	return role
}

// Participant returns the local identity, or nil when anonymous.
func (c Config) Participant() *models.Participant {
	if c.Session.ParticipantID == "" {
		return nil
	}
	return &models.Participant{ID: c.Session.ParticipantID, DisplayName: c.Session.ParticipantName}
}

// Level returns the zerolog level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
